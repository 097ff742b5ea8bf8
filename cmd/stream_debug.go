package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/knowtide/knowtide/pkg/chat"
	"github.com/knowtide/knowtide/pkg/config"
	"github.com/knowtide/knowtide/pkg/stream"
	"github.com/spf13/cobra"
)

var streamDebugCmd = &cobra.Command{
	Use:    "stream-debug",
	Short:  "Dump raw stream events and parsed chunks for one message",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Get()
		message, _ := cmd.Flags().GetString("message")
		sessionID, _ := cmd.Flags().GetString("session")

		fmt.Println("🚀 Stream Debug")
		fmt.Println("===============")
		fmt.Printf("backend: %s  session: %s\n\n", cfg.Backend.URL, sessionID)

		client := stream.NewClient(cfg.Backend.URL)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		sub, err := client.Open(ctx, sessionID, message, cfg.Supabase.AccessToken)
		if err != nil {
			log.Fatalf("❌ Failed to open stream: %v", err)
		}
		defer sub.Close()
		fmt.Println("✅ Stream opened")

		parser := chat.NewStreamParser()
		for event := range sub.Events() {
			if event.Err != nil {
				log.Fatalf("❌ Transport error: %v", event.Err)
			}
			if event.IsEnd() {
				fmt.Println("\n✅ End sentinel received")
				return
			}
			if desc, ok := event.ErrorPayload(); ok {
				log.Fatalf("❌ Protocol error: %s", desc)
			}
			for _, chunk := range parser.ParseChunk(event.Data) {
				fmt.Printf("  [%s] speakable=%-5t %q\n", chunk.Type, chunk.Speakable, chunk.Content)
			}
		}
		fmt.Println("\n⚠️  Stream closed without end sentinel")
	},
}

func init() {
	streamDebugCmd.Flags().String("message", "hello", "message to send")
	streamDebugCmd.Flags().String("session", "", "session id")
	rootCmd.AddCommand(streamDebugCmd)
}
