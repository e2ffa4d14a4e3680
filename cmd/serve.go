package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/agentic-research/rethread/internal/graph"
	"github.com/agentic-research/rethread/internal/graphfile"
	"github.com/agentic-research/rethread/internal/kvstore"
	"github.com/agentic-research/rethread/internal/thread"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveDir string
	version  = "dev"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve thread materialization and record lookup over MCP (stdio)",
	Long: `serve exposes the record store to MCP clients on stdin/stdout.
Graph documents are read relative to --dir and cannot escape it.
The server never writes to the store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ts := &toolServer{
			docs:    osfs.New(serveDir),
			store:   store,
			metrics: app.metrics,
			log:     app.log,
		}
		s := server.NewMCPServer("rethread", version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		)
		s.AddTools(ts.tools()...)

		app.log.WithField("action", "serve").WithField("dir", serveDir).Info("serving MCP on stdio")
		return server.ServeStdio(s)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveDir, "dir", ".", "Directory graph documents are resolved against")
	rootCmd.AddCommand(serveCmd)
}

// toolServer answers MCP tool calls against one store.
type toolServer struct {
	docs    billy.Filesystem
	store   kvstore.Store
	metrics *kvstore.Metrics
	log     logrus.FieldLogger
}

func (ts *toolServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("materialize_threads",
				mcp.WithDescription("Flatten the threads of a graph document using the nested records in the store. The store is not modified."),
				mcp.WithString("graph", mcp.Required(), mcp.Description("Path of the graph document (JSON or YAML)")),
				mcp.WithString("roots", mcp.Description("JSONPath selecting root cap names; defaults to caps with root=true")),
			),
			Handler: ts.materialize,
		},
		{
			Tool: mcp.NewTool("get_record",
				mcp.WithDescription("Return the content of one stored record."),
				mcp.WithNumber("name", mcp.Required(), mcp.Description("Record name (an integer)")),
			),
			Handler: ts.getRecord,
		},
	}
}

func (ts *toolServer) materialize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("graph")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := graphfile.Load(ts.docs, path)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to load graph", err), nil
	}
	roots, err := f.Roots(req.GetString("roots", ""))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to select roots", err), nil
	}

	a := thread.New(f.Graph, ts.store, thread.WithLogger(ts.log), thread.WithMetrics(ts.metrics))
	threads, err := a.Materialize(ctx, roots, f.Formatter())
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to materialize threads", err), nil
	}

	var b strings.Builder
	for i, t := range threads {
		fmt.Fprintf(&b, "%s\t%s\n", roots[i], t)
	}
	return mcp.NewToolResultText(b.String()), nil
}

var errBadName = errors.New("record name must be an integer")

func (ts *toolServer) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, err := req.RequireFloat("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
		return mcp.NewToolResultError(errBadName.Error()), nil
	}

	gw := kvstore.NewGateway(ts.store, kvstore.WithMetrics(ts.metrics), kvstore.WithLogger(ts.log))
	records, err := gw.Get(ctx, []graph.Name{graph.Name(int64(v))})
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to get record", err), nil
	}
	return mcp.NewToolResultText(string(records[0].Data)), nil
}
