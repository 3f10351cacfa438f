package cmd

import (
	"fmt"
	"strings"

	"Boombot/core/codec"
	"Boombot/core/requests"

	"github.com/spf13/cobra"
)

var (
	requestNick     string
	requestAddr     string
	requestEncoding string
)

var requestCmd = &cobra.Command{
	Use:   "request MESSAGE...",
	Short: "Send a song request (or !skip) to a running request server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := codec.NewChain([]string{requestEncoding})
		if err != nil {
			return err
		}

		addr := requestAddr
		if addr == "" {
			addr = fmt.Sprintf("127.0.0.1:%d", cfg.ListenPort)
		}

		client := &requests.Client{
			Addr:     addr,
			Encoding: chain,
			Timeout:  cfg.ReplyTimeout + cfg.ReadTimeout,
		}
		reply, err := client.Send(cmd.Context(), requestNick, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVarP(&requestNick, "nick", "n", "cli", "requester nickname")
	requestCmd.Flags().StringVarP(&requestAddr, "addr", "a", "", "request server address (default 127.0.0.1:BOOMBOT_LISTEN_PORT)")
	requestCmd.Flags().StringVarP(&requestEncoding, "encoding", "e", "utf-8", "encoding used on the wire")
}
