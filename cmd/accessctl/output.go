package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	access "github.com/goliatone/go-access"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func printPrincipals(out io.Writer, result *access.SearchResult) {
	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tSTATUS\tCREATED")
	for _, p := range result.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Username, p.Email, access.StatusOf(p), p.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintf(out, "%d of %d principals (page %d, size %d)\n",
		len(result.Items), result.Total, result.Page, result.PageSize)
}

func printStats(out io.Writer, s access.Stats) {
	tw := newTable(out)
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	fmt.Fprintf(tw, "active\t%d\n", s.Active)
	fmt.Fprintf(tw, "unverified\t%d\n", s.Unverified)
	fmt.Fprintf(tw, "admins\t%d\n", s.Admins)
	fmt.Fprintf(tw, "last 7 days\t%d\n", s.Recent)
	tw.Flush()
}

func printNodes(out io.Writer, nodes []*access.MenuNode) {
	tw := newTable(out)
	fmt.Fprintln(tw, "NAME\tLEVEL\tPARENT\tRANK\tACTIVE\tMENU\tACCESS\tROLES\tPERMISSIONS")
	for _, n := range nodes {
		level := string(n.AccessLevel)
		if n.IsPublic {
			level += " (public)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%t\t%t\t%s\t%s\t%s\n",
			n.Name, n.Level, dash(n.Parent), n.Rank, n.Active, n.ShowInMenu, level,
			dash(strings.Join(n.RequiredRoles, ",")), dash(strings.Join(n.RequiredPermissions, ",")))
	}
	tw.Flush()
	fmt.Fprintf(out, "%d resources\n", len(nodes))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
