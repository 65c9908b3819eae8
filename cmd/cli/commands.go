package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func client() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func get(cmd *cobra.Command, path string) error {
	addr, _ := cmd.Flags().GetString("addr")
	resp, err := client().Get(fmt.Sprintf("http://%s%s", addr, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func post(cmd *cobra.Command, path string, body any) error {
	addr, _ := cmd.Flags().GetString("addr")
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client().Post(fmt.Sprintf("http://%s%s", addr, path), "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func printJSON(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "node status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd, "/status")
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "transition frontier sync progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd, "/sync")
		},
	}
}

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "peers", Short: "peer operations"}
	list := &cobra.Command{
		Use:   "list",
		Short: "list known peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd, "/peers")
		},
	}
	connect := &cobra.Command{
		Use:   "connect [addr]",
		Short: "dial a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post(cmd, "/peers/connect", map[string]string{"addr": args[0]})
		},
	}
	cmd.AddCommand(list, connect)
	return cmd
}

func snarkPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snark-pool",
		Short: "list snark pool jobs and commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd, "/snark-pool")
		},
	}
}

func producerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "producer",
		Short: "block producer status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd, "/producer")
		},
	}
}

func watchedCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "watched-accounts", Short: "watched accounts operations"}
	list := &cobra.Command{
		Use:   "list",
		Short: "list watched accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(cmd, "/watched-accounts")
		},
	}
	add := &cobra.Command{
		Use:   "add [account]",
		Short: "start watching an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post(cmd, "/watched-accounts", map[string]string{"account": args[0]})
		},
	}
	cmd.AddCommand(list, add)
	return cmd
}
