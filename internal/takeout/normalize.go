package takeout

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// doneSentinel marks a file that has already been normalized, so repeat
// runs can skip the boilerplate stripping below.
const doneSentinel = `<span id="Done">`

// entryClass is the class the per-entry cells are rewritten to. The raw
// export wraps each entry in a wall of Material Design Lite classes that
// slow parsing down and, in at least one export format revision, include
// an unbalanced <div> that breaks tolerant parsers.
const entryClass = "entry-cell"

// boilerplate is the ordered list of replacements applied to a raw export.
// The order must not change: the class rewrite has to happen before the
// angle-bracket line splitting, and the fragment removals match the raw
// markup exactly as Takeout emits it.
var boilerplate = [][2]string{
	{`<div class="mdl-grid">`, ""},
	{`<div class="outer-cell mdl-cell mdl-cell--12-col mdl-shadow--2dp">`, ""},
	{`<div class="header-cell mdl-cell mdl-cell--12-col">` +
		`<p class="mdl-typography--title">YouTube<br></p></div>`, ""},
	{`"content-cell mdl-cell mdl-cell--6-col mdl-typography--body-1"`,
		`"` + entryClass + `"`},
	{`<div class="content-cell mdl-cell mdl-cell--6-col mdl-typography--body-1 ` +
		`mdl-typography--text-right"></div><div class="content-cell mdl-cell ` +
		`mdl-cell--12-col mdl-typography--caption"><b>Products:</b><br>&emsp;YouTube` +
		`<br></div></div></div>`, ""},
	{"<", "\n<"},
	{">", ">\n"},
}

// normalize NFKD-normalizes raw export text and strips the fixed list of
// boilerplate markup so the entry cells become parseable. Content that
// already starts with the sentinel is returned after unicode
// normalization only.
func normalize(content string) string {
	content = norm.NFKD.String(content)
	if strings.HasPrefix(content, doneSentinel) {
		return content
	}

	if start := strings.Index(content, "<body>"); start >= 0 {
		if end := strings.Index(content, "</body>"); end > start {
			// The closing </div> for the stray top-level mdl-grid sits
			// right before </body>; drop it along with the body tags.
			content = content[start+len("<body>") : end-len("</div>")]
		}
	}
	for _, piece := range boilerplate {
		content = strings.ReplaceAll(content, piece[0], piece[1])
	}
	return doneSentinel + "\n" + content
}
