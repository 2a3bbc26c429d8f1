package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/client"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), h)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d connections, %d polled sessions, %d cache entries\n",
			h.Status, h.Connections, h.PolledSessions, h.CacheEntries)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search videos by free text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := c.Search(ctx, strings.Join(args, " "), flagLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		return printItems(cmd.OutOrStdout(), res.Items)
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <tag>",
	Short: "Search videos by hashtag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := c.Tag(ctx, args[0], flagLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		return printItems(cmd.OutOrStdout(), res.Items)
	},
}

var channelCmd = &cobra.Command{
	Use:   "channel <channel-id>",
	Short: "Show a channel and its videos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := c.Channel(ctx, args[0], flagLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d subscribers, %d videos\n\n",
			res.Channel.Title, res.Channel.ID, res.Channel.SubscriberCount, res.Channel.VideoCount)
		return printItems(cmd.OutOrStdout(), res.Videos)
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <video-id>",
	Short: "Show one video with its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		v, err := c.Video(ctx, args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), v)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s\n%s\n", v.Title, v.URL)
		fmt.Fprintf(w, "%d views, %d likes, %s\n", v.ViewCount, v.LikeCount, v.Duration)
		if len(v.Tags) > 0 {
			fmt.Fprintf(w, "tags: %s\n", strings.Join(v.Tags, ", "))
		}
		if v.Description != "" {
			fmt.Fprintf(w, "\n%s\n", v.Description)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		sessions, err := c.Sessions(ctx)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), sessions)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tCONNECTED\tPOLLER\tRECORDS")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%t\t%s\t%d\n", s.ID, s.Connected, s.Poller, s.Records)
		}
		return tw.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show a session's search history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		h, err := c.History(ctx, args[0])
		if client.IsNotFound(err) {
			return fmt.Errorf("no session %q", args[0])
		}
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), h)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tQUERY\tRESULTS\tUPDATED")
		for _, r := range h.Records {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.QueryKind(), r.Query, len(r.Results), r.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(h.Words) > 0 {
			words := make([]string, len(h.Words))
			for i, wc := range h.Words {
				words[i] = fmt.Sprintf("%s(%d)", wc.Word, wc.Count)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\ntop words: %s\n", strings.Join(words, " "))
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <session-id>",
	Short: "Run one drift poll for a session now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		r, err := c.Refresh(ctx, args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), r)
		}
		if r.Changed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: results changed\n", r.SessionID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: no change\n", r.SessionID)
		}
		return nil
	},
}

func printItems(w io.Writer, items []types.ResultItem) error {
	if len(items) == 0 {
		fmt.Fprintln(w, "no results")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPUBLISHED\tTITLE")
	for _, it := range items {
		published := "-"
		if !it.PublishedAt.IsZero() {
			published = it.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.IdentityKey(), published, it.Title)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
