package bundle

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sokinpui/fmod/internal/config"
	"github.com/sokinpui/fmod/internal/diff"
)

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")

// Serialize renders b as an envelope. Paths are written absolute under the
// environment's work directory and every entry carries its base revision.
func Serialize(env config.Environment, b Bundle) string {
	var sb strings.Builder
	_ = Write(&sb, env, b)
	return sb.String()
}

// Write streams the envelope of b to w.
func Write(w io.Writer, env config.Environment, b Bundle) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "<%s>\n", env.TagName())
	for _, e := range b.Entries {
		kind := e.Kind.String()
		fmt.Fprintf(bw, "<%s path=\"%s\" revision=\"%d\">\n", kind, attrEscaper.Replace(env.Abs(e.Path)), b.Base(e.Path))
		if e.Kind == KindFullFile {
			for _, l := range e.Lines {
				bw.WriteString(l)
				bw.WriteByte('\n')
			}
		} else {
			bw.WriteString(diff.Format(e.Hunks))
		}
		fmt.Fprintf(bw, "</%s>\n", kind)
	}
	fmt.Fprintf(bw, "</%s>\n", env.TagName())
	return bw.Flush()
}
