package exporter

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/VladMinzatu/modulefinder/modulefinder"
)

// WriteModuleTable prints one aligned row per module.
func WriteModuleTable(w io.Writer, modules []modulefinder.Module) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "IMAGE_ADDR\tIMAGE_SIZE\tDEBUG_ID\tCODE_ID\tCODE_FILE"); err != nil {
		return err
	}
	for _, m := range modules {
		codeID := m.CodeID
		if codeID == "" {
			codeID = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%#x\t%s\t%s\t%s\n", m.ImageAddr, m.ImageSize, m.DebugID, codeID, escapeFile(m.CodeFile)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func escapeFile(name string) string {
	// paths may contain anything but a newline would break the row
	out := []byte(name)
	for i, c := range out {
		if c == '\n' || c == '\t' {
			out[i] = ' '
		}
	}
	return string(out)
}
