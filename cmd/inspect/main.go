package main

import (
	"flag"
	"fmt"
	"os"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/store"
)

// inspect dumps conversations and messages from a store directory. It is a
// read-oriented debugging tool and must not run against a live server
// holding the pebble lock.
func main() {
	var path, conv string
	var versions bool
	flag.StringVar(&path, "path", "", "store dir path to open")
	flag.StringVar(&conv, "conv", "", "only dump this conversation")
	flag.BoolVar(&versions, "versions", false, "include message version history")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	logger.Init()
	if err := store.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	convs := []string{conv}
	if conv == "" {
		all, err := store.ListConversations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list conversations failed: %v\n", err)
			os.Exit(1)
		}
		convs = all
	}

	for _, id := range convs {
		msgs, err := store.ListMessages(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list messages for %s failed: %v\n", id, err)
			continue
		}
		fmt.Printf("conversation %s (%d messages)\n", id, len(msgs))
		for _, m := range msgs {
			status := "unread"
			if m.IsRead || len(m.ReadBy) > 0 {
				status = "read"
			}
			fmt.Printf("  %s ts=%d from=%s %s %q\n", m.ID, m.TS, m.SenderID, status, m.Text)
			if versions {
				vs, err := store.ListMessageVersions(m.ID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "  versions for %s failed: %v\n", m.ID, err)
					continue
				}
				for i, v := range vs {
					fmt.Printf("    v%d ts=%d read=%v deleted=%v\n", i, v.TS, v.IsRead, v.Deleted)
				}
			}
		}
	}
}
