// Command o365-graph reads and writes Office 365 data through Microsoft Graph.
//
// Usage:
//
//	o365-graph [-config file] <command> [flags]
//
// Commands:
//
//	sites        search sites
//	rows         print the rows of a SharePoint list
//	write-rows   replace the rows of a SharePoint list with CSV from stdin
//	delete-rows  delete every row of a SharePoint list
//	messages     print a user's mailbox messages
//	tasks        print the tasks of a planner plan
//	files        print every file below a document library folder
//	download     write a file from a document library to stdout
//
// Settings come from the config file and O365_* environment variables; the
// bearer token is read from O365_TOKEN.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/o365-graph-client/pkg/client"
	"github.com/Sternrassler/o365-graph-client/pkg/config"
	"github.com/Sternrassler/o365-graph-client/pkg/graph"
	"github.com/Sternrassler/o365-graph-client/pkg/logging"
	"github.com/Sternrassler/o365-graph-client/pkg/metrics"
	"github.com/Sternrassler/o365-graph-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var errUsage = errors.New("usage: o365-graph [-config file] <sites|rows|write-rows|delete-rows|messages|tasks|files|download> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg     *config.Config
	session *client.Session
	logger  zerolog.Logger
	in      io.Reader
	stdout  io.Writer
	out     *json.Encoder
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) (err error) {
	fs := flag.NewFlagSet("o365-graph", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Log.Level)
	logCfg.Pretty = cfg.Log.Pretty
	logging.Setup(logCfg)
	logger := logging.NewLogger("o365-graph")
	logger.Debug().Fields(logging.FilterSecrets(cfg.Fields(), config.SecretKeys)).Msg("Configuration loaded")

	clientCfg := cfg.ClientConfig(cfg.Tokens())
	clientCfg.Logger = &logger

	if opts := cfg.RedisOptions(); opts != nil {
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unreachable, shared throttle cooldown degraded")
		}
		clientCfg.Cooldown = ratelimit.NewTracker(redisClient, cfg.Redis.Namespace, logger)
	}

	session, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		if shutdownErr := session.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	a := &app{cfg: cfg, session: session, logger: logger, in: in, stdout: out, out: json.NewEncoder(out)}

	command, rest := fs.Arg(0), fs.Args()[1:]
	logger.Info().Str("command", command).Str("api_root", session.APIRoot()).Msg("Starting")

	switch command {
	case "sites":
		return a.sites(ctx, rest)
	case "rows":
		return a.rows(ctx, rest)
	case "write-rows":
		return a.writeRows(ctx, rest)
	case "delete-rows":
		return a.deleteRows(ctx, rest)
	case "messages":
		return a.messages(ctx, rest)
	case "tasks":
		return a.tasks(ctx, rest)
	case "files":
		return a.files(ctx, rest)
	case "download":
		return a.download(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n%w", command, errUsage)
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (a *app) sites(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sites", flag.ContinueOnError)
	query := fs.String("query", "*", "search query")
	limit := fs.Int("limit", -1, "maximum number of sites, -1 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return emit(a.out, graph.Items[graph.SiteInfo](ctx, graph.SearchSites(a.session, *query)), *limit)
}

// listFlags registers -site and -list on fs.
func listFlags(fs *flag.FlagSet) (site, list *string) {
	site = fs.String("site", "", "site id or host/server-relative path")
	list = fs.String("list", "", "list id or display name")
	return site, list
}

// openSite accepts a site id or a host/server-relative path.
func (a *app) openSite(ctx context.Context, siteRef string) (*graph.Site, error) {
	if !strings.Contains(siteRef, "/") {
		return graph.NewSite(a.session, siteRef), nil
	}
	id, err := graph.ResolveSiteID(ctx, a.session, siteRef)
	if err != nil {
		return nil, fmt.Errorf("resolve site: %w", err)
	}
	return graph.NewSite(a.session, id), nil
}

func (a *app) openList(ctx context.Context, siteRef, listRef string) (*graph.List, error) {
	if siteRef == "" || listRef == "" {
		return nil, errors.New("-site and -list are required")
	}
	site, err := a.openSite(ctx, siteRef)
	if err != nil {
		return nil, err
	}

	listID, err := site.ListID(ctx, listRef)
	if errors.Is(err, graph.ErrNotFound) {
		// not a display name; treat it as an id
		listID, err = listRef, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve list: %w", err)
	}
	return site.List(listID), nil
}

func (a *app) rows(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rows", flag.ContinueOnError)
	siteRef, listRef := listFlags(fs)
	limit := fs.Int("limit", -1, "maximum number of rows, -1 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.openList(ctx, *siteRef, *listRef)
	if err != nil {
		return err
	}
	for row, err := range list.DisplayRows(ctx, graph.NewRecordsLimit(*limit)) {
		if err != nil {
			return err
		}
		if err := a.out.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) writeRows(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("write-rows", flag.ContinueOnError)
	siteRef, listRef := listFlags(fs)
	types := fs.String("types", "", "column types as name:kind pairs, e.g. Qty:int,Price:float")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.openList(ctx, *siteRef, *listRef)
	if err != nil {
		return err
	}

	reader := csv.NewReader(a.in)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	schema, err := parseSchema(header, *types)
	if err != nil {
		return err
	}

	writer, err := list.PrepareWrite(ctx, schema, a.cfg.BatchSize)
	if err != nil {
		return err
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Join(fmt.Errorf("read csv: %w", err), writer.Close(ctx))
		}
		values := make([]any, len(record))
		for i, v := range record {
			values[i] = v
		}
		if err := writer.WriteRow(ctx, values); err != nil {
			return errors.Join(err, writer.Close(ctx))
		}
	}
	if err := writer.Close(ctx); err != nil {
		return err
	}
	a.logger.Info().Int("rows", writer.Written()).Str("list", list.ID()).Msg("Rows written")
	return nil
}

// parseSchema builds the schema from a CSV header; columns missing from
// types are strings.
func parseSchema(header []string, types string) ([]graph.SchemaColumn, error) {
	kinds := map[string]string{}
	if types != "" {
		for _, pair := range strings.Split(types, ",") {
			name, kind, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok {
				return nil, fmt.Errorf("invalid column type %q (want name:kind)", pair)
			}
			switch kind {
			case graph.KindString, graph.KindInt, graph.KindFloat:
			default:
				return nil, fmt.Errorf("unknown column kind %q for %s", kind, name)
			}
			kinds[name] = kind
		}
	}
	schema := make([]graph.SchemaColumn, 0, len(header))
	for _, name := range header {
		kind := kinds[name]
		if kind == "" {
			kind = graph.KindString
		}
		schema = append(schema, graph.SchemaColumn{Name: name, Type: kind})
	}
	return schema, nil
}

func (a *app) deleteRows(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete-rows", flag.ContinueOnError)
	siteRef, listRef := listFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.openList(ctx, *siteRef, *listRef)
	if err != nil {
		return err
	}
	n, err := list.DeleteAllRows(ctx)
	if err != nil {
		return err
	}
	a.logger.Info().Int("rows", n).Str("list", list.ID()).Msg("Rows deleted")
	return nil
}

func (a *app) messages(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	user := fs.String("user", "", "user principal name")
	limit := fs.Int("limit", -1, "maximum number of messages, -1 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}
	return emit(a.out, graph.NewMessages(a.session).Read(ctx, *user), *limit)
}

func (a *app) tasks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	plan := fs.String("plan", "", "planner plan id")
	limit := fs.Int("limit", -1, "maximum number of tasks, -1 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *plan == "" {
		return errors.New("-plan is required")
	}
	return emit(a.out, graph.NewPlanner(a.session).ReadTasks(ctx, *plan), *limit)
}

// driveFlags registers -site and -drive on fs.
func driveFlags(fs *flag.FlagSet) (site, drive *string) {
	site = fs.String("site", "", "site id or host/server-relative path")
	drive = fs.String("drive", "", "document library name, empty for the default")
	return site, drive
}

func (a *app) openDrive(ctx context.Context, siteRef, driveName string) (*graph.Drive, error) {
	if siteRef == "" {
		return nil, errors.New("-site is required")
	}
	site, err := a.openSite(ctx, siteRef)
	if err != nil {
		return nil, err
	}
	id, err := site.DriveID(ctx, driveName)
	if err != nil {
		return nil, fmt.Errorf("resolve drive: %w", err)
	}
	return graph.NewDrive(a.session, id), nil
}

func (a *app) files(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("files", flag.ContinueOnError)
	siteRef, driveName := driveFlags(fs)
	folder := fs.String("path", "/", "folder below the library root")
	limit := fs.Int("limit", -1, "maximum number of files, -1 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	drive, err := a.openDrive(ctx, *siteRef, *driveName)
	if err != nil {
		return err
	}
	return emit(a.out, drive.Walk(ctx, *folder), *limit)
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	siteRef, driveName := driveFlags(fs)
	file := fs.String("path", "", "file below the library root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-path is required")
	}
	drive, err := a.openDrive(ctx, *siteRef, *driveName)
	if err != nil {
		return err
	}
	n, err := drive.Download(ctx, *file, a.stdout)
	if err != nil {
		return err
	}
	a.logger.Info().Int64("bytes", n).Str("path", *file).Msg("File downloaded")
	return nil
}

// emit writes items as JSON lines until limit is reached.
func emit[T any](out *json.Encoder, items iter.Seq2[T, error], limit int) error {
	records := graph.NewRecordsLimit(limit)
	for item, err := range items {
		if err != nil {
			return err
		}
		if !records.Allow() {
			return nil
		}
		if err := out.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
