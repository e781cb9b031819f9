package summarize

import (
	"fmt"
	"strings"
)

// pagePrompt asks for a short, dense summary of a single page. Per-page
// summaries later feed the document roll-up, so they favor concrete facts
// over prose.
func pagePrompt(pageNum int) string {
	return fmt.Sprintf(`Analyze page %d of this document and summarize it concisely.

Focus on:
- the main topic or purpose of this page
- key facts: dates, parties, amounts, obligations
- signals of the document type (contract, invoice, financial report, certificate, correspondence)
- any critical legal or financial terms

Reply with a 1-2 sentence summary capturing the essential content of this page.`, pageNum)
}

// rollupPrompt asks for a document-level summary over the per-page lines.
func rollupPrompt(pageLines []string) string {
	return fmt.Sprintf(`These are page-by-page summaries of one document:

%s

Based on them, write a 2-3 sentence summary of the entire document. Cover the document type and purpose, the main parties involved, the key terms or obligations, and why the document matters.`, strings.Join(pageLines, "\n"))
}
