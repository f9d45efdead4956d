// syncctl drives the reconciliation trigger surface from the command
// line: inspect status, force a pass, toggle the loop, set the
// interval. It talks to the same HTTP API the bot front end uses.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
)

var (
	addr    = flag.String("addr", envOr("LEDGER_ADDR", "http://localhost:8080"), "base URL of the points-ledger API")
	token   = flag.String("token", os.Getenv("API_TOKEN"), "API token, if the server requires one")
	mode    = flag.String("mode", "", "sync mode for force: bidirectional, names_only, points_only, force_sheet_to_ledger, force_ledger_to_sheet")
	timeout = flag.Duration("timeout", 2*time.Minute, "request timeout; forced passes over many partitions can be slow")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: syncctl [flags] <command>

Commands:
  status              show sync status and statistics
  force [partition]   run a reconciliation pass now (all partitions when omitted)
  enable              enable background sync
  disable             disable background sync
  interval <seconds>  set the sync interval (5..3600)

Flags:
%s`, flag.CommandLine.FlagUsages())
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c := &client{
		base:  *addr,
		token: *token,
		http:  &http.Client{Timeout: *timeout},
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = c.get("/api/v1/sync/status")
	case "force":
		body := map[string]string{}
		if flag.NArg() > 1 {
			body["partition"] = flag.Arg(1)
		}
		if *mode != "" {
			body["mode"] = *mode
		}
		err = c.send(http.MethodPost, "/api/v1/sync/force", body)
	case "enable":
		err = c.send(http.MethodPut, "/api/v1/sync/enabled", map[string]bool{"enabled": true})
	case "disable":
		err = c.send(http.MethodPut, "/api/v1/sync/enabled", map[string]bool{"enabled": false})
	case "interval":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		seconds, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			fmt.Fprintf(os.Stderr, "syncctl: interval %q is not a number\n", flag.Arg(1))
			os.Exit(2)
		}
		err = c.send(http.MethodPut, "/api/v1/sync/interval", map[string]int{"seconds": seconds})
	default:
		fmt.Fprintf(os.Stderr, "syncctl: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "syncctl: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

// envelope mirrors the API's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) get(path string) error {
	return c.do(http.MethodGet, path, nil)
}

func (c *client) send(method, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(method, path, bytes.NewReader(encoded))
}

func (c *client) do(method, path string, body io.Reader) error {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-API-Key", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: unreadable response: %w", resp.Status, err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", resp.Status, env.Error.Message)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, env.Data, "", "  "); err != nil {
		fmt.Println(string(env.Data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
