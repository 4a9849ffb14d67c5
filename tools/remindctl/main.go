// remindctl triggers the scheduler jobs the way an external cron would and
// prints each job's JSON report.
//
//	remindctl [flags] daily|send|sweep|repair
//	remindctl hash-key <key>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vdental/chairbook/libs/auth"
	"github.com/vdental/chairbook/libs/config"
)

var jobPaths = map[string]string{
	"daily":  "/internal/jobs/daily-enqueue",
	"send":   "/internal/jobs/send-due",
	"sweep":  "/internal/jobs/sweep-stuck",
	"repair": "/internal/jobs/repair",
}

func main() {
	_ = config.LoadDotEnv()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("remindctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("base-url", config.String("SCHEDULER_URL", "http://localhost:8087"), "scheduler-service base url")
	apiKey := fs.String("api-key", config.String("ADMIN_TOKEN", ""), "operator api key (X-Api-Key)")
	timeout := fs.Duration("timeout", 2*time.Minute, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: remindctl [flags] daily|send|sweep|repair|hash-key <key>")
		return 2
	}

	cmd := fs.Arg(0)
	if cmd == "hash-key" {
		if fs.NArg() < 2 {
			fmt.Fprintln(stderr, "hash-key needs the key to hash")
			return 2
		}
		hash, err := auth.HashKey(fs.Arg(1))
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, hash)
		return 0
	}

	path, ok := jobPaths[cmd]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
	if strings.TrimSpace(*apiKey) == "" {
		fmt.Fprintln(stderr, "ADMIN_TOKEN or -api-key is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	report, err := trigger(ctx, http.DefaultClient, strings.TrimRight(*baseURL, "/")+path, *apiKey)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(report))
	return 0
}

// trigger posts to a job endpoint and returns its report, indented.
func trigger(ctx context.Context, client *http.Client, url, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status=%d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return nil, errors.New("response is not JSON: " + strings.TrimSpace(string(body)))
	}
	return out.Bytes(), nil
}
