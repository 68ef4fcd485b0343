package compare

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/wasmdiff/internal/ir"
)

// Render writes a human-readable account of a comparison. names labels the
// two engines. Only flagged calls are listed unless all is set.
func Render(w io.Writer, names [2]string, res Result, calls []Call, all bool) error {
	var b strings.Builder

	fmt.Fprintf(&b, "state: %s\n", res.State)
	if res.State != Completed {
		_, err := io.WriteString(w, b.String())
		return err
	}
	fmt.Fprintf(&b, "records: %s=%d %s=%d\n", names[0], res.Records[0], names[1], res.Records[1])
	for i, info := range res.Parse {
		if info.Repaired || info.Dropped > 0 || info.Invalid > 0 {
			fmt.Fprintf(&b, "repaired: %s dropped=%d invalid=%d\n", names[i], info.Dropped, info.Invalid)
		}
	}
	fmt.Fprintf(&b, "aligned: %d  divergent: %d  desyncs: %d  arg-mismatches: %d\n",
		res.Aligned, res.Divergent, res.Desyncs, res.ArgMismatches)
	if res.Undecodable > 0 || res.SkippedMemoryKeys > 0 {
		fmt.Fprintf(&b, "undecodable: %d  skipped-memory-keys: %d\n", res.Undecodable, res.SkippedMemoryKeys)
	}

	for _, c := range calls {
		tags := c.tags()
		if len(tags) == 0 && !all {
			continue
		}
		head := signature(c.Identity())
		if c.Desync || c.ArgMismatch {
			head += " / " + signature(c.B)
		}
		fmt.Fprintf(&b, "#%d %s", c.Seq, head)
		if len(tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(tags, " "))
		}
		b.WriteByte('\n')
		writeRecord(&b, names[0], c.A)
		writeRecord(&b, names[1], c.B)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (c Call) tags() []string {
	var tags []string
	if c.Divergent {
		tags = append(tags, "divergent")
	}
	if c.Desync {
		tags = append(tags, "desync")
	}
	if c.ArgMismatch {
		tags = append(tags, "arg-mismatch")
	}
	if c.Undecodable() {
		tags = append(tags, "undecodable")
	}
	return tags
}

func signature(rec ir.CallRecord) string {
	args := make([]string, len(rec.Args))
	for i, a := range rec.Args {
		args[i] = fmt.Sprint(int64(a))
	}
	return fmt.Sprintf("%s(%s)", rec.FunctionID(), strings.Join(args, ", "))
}

func writeRecord(b *strings.Builder, name string, rec ir.CallRecord) {
	if rec.Invalid {
		fmt.Fprintf(b, "  %s: undecodable\n", name)
		return
	}
	outcome := "trap"
	if rec.Success {
		outcome = "ok"
	}
	fmt.Fprintf(b, "  %s: %s", name, outcome)
	if rec.Result != nil {
		fmt.Fprintf(b, " result=%d", int64(*rec.Result))
	}
	b.WriteByte('\n')

	entries, _ := memoryEntries(rec)
	for _, e := range entries {
		fmt.Fprintf(b, "    memory[%d]: %d -> %d\n", e.Index, int64(e.Before), int64(e.After))
	}
	for _, g := range rec.GlobalEntries() {
		fmt.Fprintf(b, "    global %s: %d -> %d\n", g.Name, int64(g.Before), int64(g.After))
	}
}
