package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

// requestFlags holds the flag values of the request command.
type requestFlags struct {
	data       string
	headers    []string
	query      []string
	allowRetry bool
	timeout    time.Duration
	repeat     int
	parallel   int
	requestID  bool
}

// responseView is the printable form of a response.
type responseView struct {
	Status   int    `json:"status"          yaml:"status"`
	Attempts int    `json:"attempts"        yaml:"attempts"`
	Duration string `json:"duration"        yaml:"duration"`
	Body     any    `json:"body,omitempty"  yaml:"body,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRequestCommand creates the request command.
func NewRequestCommand() *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:     "request METHOD PATH",
		Aliases: []string{"req"},
		Short:   "Send a request to the API",
		Long: `Send a single request, or several concurrent copies with --repeat.

Credentials come from the configured token store. A 401 response triggers one
token refresh when a token URL is configured, then the request is replayed.`,
		Example: `  apiclient request GET /v1/projects --query page=2
  apiclient request POST /v1/projects --data '{"name":"demo"}' --allow-retry
  apiclient request GET /v1/health --repeat 20 --parallel 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, args[0], args[1], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.data, "data", "d", "", "request body; @FILE reads a file, @- reads stdin")
	cmd.Flags().StringArrayVarP(&flags.headers, "header", "H", nil, "extra header as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&flags.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&flags.allowRetry, "allow-retry", false, "allow retrying a non-idempotent request")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-attempt timeout (overrides config)")
	cmd.Flags().IntVar(&flags.repeat, "repeat", 1, "number of times to send the request")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 4, "maximum concurrent requests with --repeat")
	cmd.Flags().BoolVar(&flags.requestID, "request-id", true, "set a random X-Request-ID header")

	return cmd
}

func runRequest(cmd *cobra.Command, method, path string, flags *requestFlags) error {
	if flags.repeat < 1 {
		return fmt.Errorf("%w: %d", constants.ErrInvalidRepeat, flags.repeat)
	}

	req, err := buildRequest(cmd.InOrStdin(), method, path, flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	config := loadConfig()

	store, err := openTokenStore(ctx, config)
	if err != nil {
		return err
	}

	defer func() { _ = tokenstore.Close(store) }()

	chain := api.NewInterceptorChain()
	if flags.requestID {
		chain.AddRequestInterceptor(api.RequestIDInterceptor())
	}

	chain.AddRetryInterceptor(api.LoggingRetryInterceptor(api.NewSlogLogger(slog.Default())))

	cli, err := newAPIClient(config, store, chain)
	if err != nil {
		return err
	}

	if flags.repeat == 1 {
		resp, err := cli.Do(ctx, req)
		if resp != nil {
			printErr := printResponse(cmd.OutOrStdout(), viper.GetString("output"), resp)
			if printErr != nil && err == nil {
				return printErr
			}
		}

		return err
	}

	return runRepeated(ctx, cmd.OutOrStdout(), cli, req, flags)
}

func buildRequest(stdin io.Reader, method, path string, flags *requestFlags) (*api.Request, error) {
	headers, err := parsePairs(flags.headers)
	if err != nil {
		return nil, err
	}

	pairs, err := parsePairs(flags.query)
	if err != nil {
		return nil, err
	}

	var query url.Values
	if len(pairs) > 0 {
		query = make(url.Values, len(pairs))
		for key, value := range pairs {
			query.Set(key, value)
		}
	}

	body, err := readBody(stdin, flags.data)
	if err != nil {
		return nil, err
	}

	req := &api.Request{
		Method:     strings.ToUpper(method),
		Path:       path,
		Query:      query,
		Headers:    headers,
		Timeout:    flags.timeout,
		AllowRetry: flags.allowRetry,
	}

	if body != nil {
		req.Body = body
	}

	return req, nil
}

// parsePairs parses key=value arguments.
func parsePairs(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil //nolint:nilnil // no pairs is not an error
	}

	pairs := make(map[string]string, len(values))

	for _, value := range values {
		key, val, found := strings.Cut(value, "=")
		key = strings.TrimSpace(key)

		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidHeaderFormat, value)
		}

		pairs[key] = strings.TrimSpace(val)
	}

	return pairs, nil
}

func readBody(stdin io.Reader, data string) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}

		return body, nil
	case strings.HasPrefix(data, "@"):
		path := filepath.Clean(strings.TrimPrefix(data, "@"))

		body, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the user invoking the CLI
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}

		return body, nil
	default:
		return []byte(data), nil
	}
}

func viewOf(resp *api.Response) responseView {
	view := responseView{
		Status:   resp.StatusCode,
		Attempts: resp.Attempts,
		Duration: resp.Duration.Round(time.Millisecond).String(),
	}

	if len(resp.Body) > 0 {
		var decoded any
		if json.Unmarshal(resp.Body, &decoded) == nil {
			view.Body = decoded
		} else {
			view.Body = string(resp.Body)
		}
	}

	return view
}

func printResponse(w io.Writer, format string, resp *api.Response) error {
	view := viewOf(resp)

	switch format {
	case constants.FormatJSON, constants.FormatYAML:
		return writeStructured(w, format, view)
	default:
		err := renderProperties(w, [][2]string{
			{"Status", strconv.Itoa(view.Status)},
			{"Attempts", strconv.Itoa(view.Attempts)},
			{"Duration", view.Duration},
		})
		if err != nil {
			return err
		}

		if len(resp.Body) > 0 {
			_, _ = fmt.Fprintln(w, string(resp.Body))
		}

		return nil
	}
}

// runRepeated sends req flags.repeat times with at most flags.parallel in
// flight and prints one summary row per send.
func runRepeated(ctx context.Context, w io.Writer, cli api.Client, req *api.Request, flags *requestFlags) error {
	results := make([]responseView, flags.repeat)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(flags.parallel, 1))

	for i := range flags.repeat {
		g.Go(func() error {
			resp, err := cli.Do(ctx, req)
			if resp != nil {
				results[i] = viewOf(resp)
				results[i].Body = nil
			}

			if err != nil {
				results[i].Error = err.Error()
			}

			return nil
		})
	}

	_ = g.Wait()

	failed := 0

	for _, result := range results {
		if result.Error != "" {
			failed++
		}
	}

	format := viper.GetString("output")
	if format == constants.FormatJSON || format == constants.FormatYAML {
		err := writeStructured(w, format, results)
		if err != nil {
			return err
		}
	} else {
		rows := make([][2]string, 0, len(results))
		for i, result := range results {
			status := strconv.Itoa(result.Status)
			if result.Error != "" {
				status = result.Error
			}

			rows = append(rows, [2]string{"#" + strconv.Itoa(i+1), status})
		}

		err := renderProperties(w, rows)
		if err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", constants.ErrRequestsFailed, failed, flags.repeat)
	}

	return nil
}
