package main

import (
	"flag"
	"fmt"
	"os"

	"fpchat/pkg/logger"
	"fpchat/pkg/store"
)

// inspect opens a timeline cache directly and dumps what it holds.
// Run it against a stopped server's store dir to debug cache contents.
func main() {
	var p, conv string
	flag.StringVar(&p, "path", "", "pebble store dir (e.g. ./.cache/store)")
	flag.StringVar(&conv, "conv", "", "conversation id; when set, dump its timeline")
	flag.Parse()
	if p == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init()
	if err := store.Open(p); err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if conv != "" {
		msgs, err := store.LoadTimeline(conv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load timeline: %v\n", err)
			os.Exit(1)
		}
		for _, m := range msgs {
			fmt.Fprintf(os.Stdout, "%s  %-8s %-10s %s\n", m.CreatedAt.Format("2006-01-02T15:04:05.000"), m.Kind, m.Provenance, m.ID)
		}
		fmt.Fprintf(os.Stdout, "%d messages\n", len(msgs))
		return
	}

	convs, err := store.ListConversations()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list conversations: %v\n", err)
		os.Exit(1)
	}
	for _, c := range convs {
		msgs, _ := store.LoadTimeline(c.ID)
		fmt.Fprintf(os.Stdout, "%-24s unread=%-3d msgs=%-5d %s\n", c.ID, c.UnreadCount, len(msgs), c.LastMessage)
	}
	fmt.Fprintf(os.Stdout, "%d conversations\n", len(convs))
}
