package main

import (
	"fmt"
	"io"
	"strconv"

	"smsrelay/internal/di"
	"smsrelay/internal/domain/conversation"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the durable store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.load(cmd)
			if err != nil {
				return err
			}
			handle, err := di.OpenStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			handle.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func newConversationsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect stored conversations",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent conversations with their messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.load(cmd)
			if err != nil {
				return err
			}
			handle, err := di.OpenStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer handle.Close()
			items, err := handle.Store.ListRecentConversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printConversations(cmd.OutOrStdout(), items)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum conversations to show")

	show := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print one conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.load(cmd)
			if err != nil {
				return err
			}
			handle, err := di.OpenStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer handle.Close()
			conv, err := handle.Store.GetConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msgs, err := handle.Store.ListMessages(cmd.Context(), conv.ID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), conversation.ConversationWithMessages{Conversation: conv, Messages: msgs})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func printConversations(w io.Writer, items []conversation.ConversationWithMessages) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No conversations")
		return err
	}
	for _, item := range items {
		thread := "-"
		if handle, ok := item.Status().Handle(); ok {
			thread = handle.Key()
		}
		logged := ""
		if item.LoggedToCase {
			logged = " case=" + item.CaseReference
		}
		if _, err := fmt.Fprintf(w, "%s  %-16s  %s  messages=%s  thread=%s%s\n",
			item.ID, item.Phone, item.UpdatedAt.Format("2006-01-02 15:04"), strconv.Itoa(len(item.Messages)), thread, logged); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
