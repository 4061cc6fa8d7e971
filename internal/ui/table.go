package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/router"
)

// RouteTable renders one line per route: the method padded to a column,
// then the pattern with parameter segments highlighted.
func RouteTable(routes []router.Route) string {
	if len(routes) == 0 {
		return render(KeyStyle, "no routes") + "\n"
	}
	width := 0
	for _, r := range routes {
		width = max(width, len(r.Method))
	}

	var b strings.Builder
	for _, r := range routes {
		method := string(r.Method)
		pad := strings.Repeat(" ", width-len(method))
		fmt.Fprintf(&b, "  %s%s  %s\n", render(MethodStyle, method), pad, pattern(r.Pattern))
	}
	return b.String()
}

func pattern(p string) string {
	if Plain() {
		return p
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = render(ParamStyle, s)
		} else if s != "" {
			segs[i] = render(PatternStyle, s)
		}
	}
	return strings.Join(segs, "/")
}

// ResponseSummary renders the status line and header fields of resp,
// with fields sorted by name.
func ResponseSummary(resp *message.Response) string {
	var b strings.Builder
	status := fmt.Sprintf("%d %s", resp.Status.Code, resp.Status.Reason)
	fmt.Fprintf(&b, "%s %s\n", resp.Version, render(StatusStyle(resp.Status.Code), status))

	type field struct{ name, value string }
	var fields []field
	resp.Header.Range(func(name, value string) bool {
		fields = append(fields, field{name, value})
		return true
	})
	for _, c := range resp.Cookies {
		fields = append(fields, field{"Set-Cookie", c.String()})
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return strings.ToLower(fields[i].name) < strings.ToLower(fields[j].name)
	})
	for _, f := range fields {
		fmt.Fprintf(&b, "%s %s\n", render(KeyStyle, f.name+":"), render(ValueStyle, f.value))
	}
	return b.String()
}
