package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"configcenter/internal/configcenter"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const watchBufferSize = 64

type watchEvent struct {
	Group      string    `json:"group" yaml:"group"`
	Key        string    `json:"key" yaml:"key"`
	ChangeType string    `json:"change_type" yaml:"change_type"`
	Content    string    `json:"content" yaml:"content"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

func watchEventFrom(changed configcenter.ConfigChangedEvent) watchEvent {
	return watchEvent{
		Group:      changed.Group,
		Key:        changed.Key,
		ChangeType: string(changed.ChangeType),
		Content:    changed.Content,
		Timestamp:  changed.OccurredAt,
	}
}

type watchOptions struct {
	group   string
	keys    []string
	count   int
	timeout time.Duration
	remote  string
	token   string
	replay  int
}

var watchDialer = websocket.DefaultDialer

func newWatchCmd(provider *AppProvider) *cobra.Command {
	return buildWatchCmd(provider, nil)
}

// buildWatchCmd signals ready once events are being received.
func buildWatchCmd(provider *AppProvider, ready chan<- struct{}) *cobra.Command {
	var options watchOptions

	cmd := &cobra.Command{
		Use:   "watch [key...]",
		Short: "Print configuration changes as they happen",
		Long: `Watch prints one line per change. With keys, a listener is registered for
each key of --group; without keys every change (of --group, when given) is
printed.

With --remote the change stream of a running "configcenter serve" is used
instead of watching the directory locally.

Examples:
  configcenter watch db.url --group prod
  configcenter watch --count 1 --timeout 30s -o json
  configcenter watch --remote http://127.0.0.1:8848 --token secret --replay 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			options.keys = args

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if options.timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, options.timeout)
				defer cancel()
			}

			events := make(chan watchEvent, watchBufferSize)
			errs := make(chan error, 1)
			var stop func()
			if options.remote != "" {
				stop, err = watchRemote(ctx, options, events, errs)
			} else {
				stop, err = watchLocal(ctx, app, options, events)
			}
			if err != nil {
				return err
			}
			defer stop()
			if ready != nil {
				close(ready)
			}
			return printEvents(ctx, app, events, errs, options.count)
		},
	}

	cmd.Flags().StringVarP(&options.group, "group", "g", "", "Group to watch (default: the default group with keys, every group without)")
	cmd.Flags().IntVarP(&options.count, "count", "n", 0, "Exit after this many events")
	cmd.Flags().DurationVar(&options.timeout, "timeout", 0, "Exit after this long")
	cmd.Flags().StringVar(&options.remote, "remote", "", "Base URL of a configcenter server")
	cmd.Flags().StringVar(&options.token, "token", "", "Token for --remote")
	cmd.Flags().IntVar(&options.replay, "replay", 0, "Ask --remote to replay this many recent events first")

	return cmd
}

func watchLocal(ctx context.Context, app *App, options watchOptions, events chan<- watchEvent) (func(), error) {
	config, err := app.Open(nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	send := func(changed configcenter.ConfigChangedEvent) {
		select {
		case events <- watchEventFrom(changed):
		case <-ctx.Done():
		}
	}

	if len(options.keys) > 0 {
		for _, key := range options.keys {
			if _, err := config.AddListener(key, options.group, configcenter.ListenerFunc(send)); err != nil {
				cancel()
				_ = config.Close()
				return nil, err
			}
		}
		return func() {
			cancel()
			_ = config.Close()
		}, nil
	}

	group := strings.TrimSpace(options.group)
	ch, unsubscribe := config.Events().SubscribeFiltered(func(changed configcenter.ConfigChangedEvent) bool {
		return group == "" || changed.Group == group
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case changed, ok := <-ch:
				if !ok {
					return
				}
				send(changed)
			}
		}
	}()
	return func() {
		cancel()
		unsubscribe()
		_ = config.Close()
		<-done
	}, nil
}

// remotePayload mirrors the server's stream envelope, which carries either
// a change or an error.
type remotePayload struct {
	Type       string    `json:"type"`
	Group      string    `json:"group"`
	Key        string    `json:"key"`
	ChangeType string    `json:"change_type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	Status     int       `json:"status"`
}

func watchRemote(ctx context.Context, options watchOptions, events chan<- watchEvent, errs chan<- error) (func(), error) {
	wsURL, err := eventsWebSocketURL(options)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token := strings.TrimSpace(options.token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := watchDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial change stream: %s", resp.Status)
		}
		return nil, fmt.Errorf("dial change stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	keys := make(map[string]struct{}, len(options.keys))
	for _, key := range options.keys {
		keys[key] = struct{}{}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var payload remotePayload
			if err := conn.ReadJSON(&payload); err != nil {
				if ctx.Err() == nil {
					errs <- remoteReadError(err)
				}
				return
			}
			if payload.Type == "error" {
				errs <- fmt.Errorf("change stream: %s (status %d)", payload.Message, payload.Status)
				return
			}
			if len(keys) > 0 {
				if _, ok := keys[payload.Key]; !ok {
					continue
				}
			}
			select {
			case events <- watchEvent{
				Group:      payload.Group,
				Key:        payload.Key,
				ChangeType: payload.ChangeType,
				Content:    payload.Content,
				Timestamp:  payload.Timestamp,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func remoteReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return io.EOF
		}
		return fmt.Errorf("change stream closed: %d %s", closeErr.Code, closeErr.Text)
	}
	return fmt.Errorf("read change stream: %w", err)
}

func eventsWebSocketURL(options watchOptions) (string, error) {
	base := strings.TrimSpace(options.remote)
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported server URL scheme")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/events"
	parsed.RawPath = ""
	query := url.Values{}
	if group := strings.TrimSpace(options.group); group != "" {
		query.Set("group", group)
	}
	if len(options.keys) == 1 {
		query.Set("key", options.keys[0])
	}
	if options.replay > 0 {
		query.Set("replay", strconv.Itoa(options.replay))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// printEvents returns nil when count events were printed, the context ends
// or the remote stream closes normally.
func printEvents(ctx context.Context, app *App, events <-chan watchEvent, errs <-chan error, count int) error {
	var yamlEncoder *yaml.Encoder
	if app.Output == outputYAML {
		yamlEncoder = yaml.NewEncoder(app.Out)
		yamlEncoder.SetIndent(2)
		defer yamlEncoder.Close()
	}
	jsonEncoder := json.NewEncoder(app.Out)

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case changed := <-events:
			var err error
			switch app.Output {
			case outputJSON:
				err = jsonEncoder.Encode(changed)
			case outputYAML:
				err = yamlEncoder.Encode(changed)
			default:
				_, err = fmt.Fprintf(app.Out, "%s %s/%s\n", changed.ChangeType, changed.Group, changed.Key)
			}
			if err != nil {
				return err
			}
			printed++
			if count > 0 && printed >= count {
				return nil
			}
		}
	}
}
