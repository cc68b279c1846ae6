package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/replagent/api"
	"github.com/ollama/replagent/dataset"
	"github.com/ollama/replagent/envconfig"
	"github.com/ollama/replagent/format"
	"github.com/ollama/replagent/history"
	"github.com/ollama/replagent/logutil"
	"github.com/ollama/replagent/server"
	"github.com/ollama/replagent/session"
	"github.com/ollama/replagent/store"
	"github.com/ollama/replagent/turn"
)

// historyOptions returns the flatten options from the environment, with
// the flags of cmd applied when it has them.
func historyOptions(cmd *cobra.Command) (history.Options, error) {
	opts := history.Options{
		System: history.DefaultSystemPrompt,
		Markup: turn.Markup{Language: envconfig.Language()},
	}

	if prompt, ok, err := envconfig.SystemPrompt(); err != nil {
		return opts, fmt.Errorf("system prompt: %w", err)
	} else if ok {
		opts.System = prompt
	}

	if f := cmd.Flags().Lookup("system"); f != nil && f.Changed {
		bts, err := os.ReadFile(f.Value.String())
		if err != nil {
			return opts, err
		}
		opts.System = string(bts)
	}

	if noSystem, _ := cmd.Flags().GetBool("no-system"); noSystem {
		opts.System = ""
	}

	if lang, _ := cmd.Flags().GetString("language"); lang != "" {
		opts.Markup.Language = lang
	}

	return opts, nil
}

func addHistoryFlags(cmd *cobra.Command) {
	cmd.Flags().String("system", "", "File with the system prompt")
	cmd.Flags().Bool("no-system", false, "Do not add a system message")
	cmd.Flags().String("language", "", "Language of the code fence")
}

// writeJSON indents v when w is a terminal.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func RunServer(cmd *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	var st store.Store
	if path := envconfig.DB(); path != "" {
		st, err = store.NewSQLite(path)
		if err != nil {
			return err
		}
		slog.Info("using session database", "path", path)
	} else {
		st = store.NewMemory()
		slog.Info("keeping sessions in memory")
	}
	defer st.Close()

	opts, err := historyOptions(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx, ln, server.NewServer(st, opts))
}

func ParseHandler(cmd *cobra.Command, args []string) error {
	var text []byte
	var err error
	if len(args) > 0 {
		text, err = os.ReadFile(args[0])
	} else {
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return errors.New("no input: pass a file or pipe a turn to stdin")
		}
		text, err = io.ReadAll(in)
	}
	if err != nil {
		return err
	}

	bodies, err := turn.Parse(string(text))
	if err != nil {
		return err
	}

	events := make([]api.Event, len(bodies))
	for i, body := range bodies {
		events[i] = api.EventFrom(session.Event{Body: body})
	}

	return writeJSON(cmd.OutOrStdout(), api.ParseResponse{Events: events})
}

func ShowHandler(cmd *cobra.Command, args []string) error {
	s, err := session.ReadFile(args[0])
	if err != nil {
		return err
	}

	if resumed, _ := cmd.Flags().GetBool("resume"); resumed {
		s.Resume()
	}

	var data [][]string
	for _, e := range s.Events {
		ev := api.EventFrom(e)
		content := ev.Text
		switch ev.Type {
		case api.EventCode:
			content = ev.Code
		case api.EventExecutionResult:
			content = ev.Output
			if !*ev.Success {
				content = "FAILED " + ev.Error
			}
		case api.EventResumeFrom:
			content = "-> " + ev.Target
		}
		data = append(data, []string{ev.ID, ev.Type, format.Preview(content, 60)})
	}

	table := newTable(cmd.OutOrStdout(), "ID", "TYPE", "CONTENT")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func FlattenHandler(cmd *cobra.Command, args []string) error {
	s, err := session.ReadFile(args[0])
	if err != nil {
		return err
	}

	opts, err := historyOptions(cmd)
	if err != nil {
		return err
	}

	msgs, err := history.Flatten(s, opts)
	if err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), api.FlattenResponse{Messages: msgs})
}

func ResumeHandler(cmd *cobra.Command, args []string) error {
	path, target := args[0], args[1]
	s, err := session.ReadFile(path)
	if err != nil {
		return err
	}

	if s.Index(target) < 0 {
		return fmt.Errorf("event %q not found in %s", target, path)
	}

	if _, err := s.Append("", session.ResumeFrom{TargetEventID: target}); err != nil {
		return err
	}

	if apply, _ := cmd.Flags().GetBool("apply"); apply {
		s.Resume()
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = path
	}

	if err := session.WriteFile(out, s); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resumed from %s, %d events written to %s\n", target, len(s.Events), out)
	return nil
}

func ListHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, s := range resp.Sessions {
		data = append(data, []string{
			s.ID,
			fmt.Sprint(s.Events),
			format.HumanTime(s.CreatedAt, "Never"),
			format.HumanTime(s.ModifiedAt, "Never"),
		})
	}

	table := newTable(cmd.OutOrStdout(), "ID", "EVENTS", "CREATED", "MODIFIED")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func DeleteHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	for _, id := range args {
		if err := client.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted '%s'\n", id)
	}
	return nil
}

func DatasetHandler(cmd *cobra.Command, args []string) error {
	opts, err := historyOptions(cmd)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	stats, err := dataset.Export(cmd.Context(), args[0], w, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d of %d sessions\n", stats.Exported, stats.Files)
	return nil
}

func ConfigHandler(cmd *cobra.Command, _ []string) error {
	if env, _ := cmd.Flags().GetBool("env"); env {
		vars := envconfig.AsMap()
		var data [][]string
		for _, k := range []string{
			"REPLAGENT_HOST",
			"REPLAGENT_ORIGINS",
			"REPLAGENT_DB",
			"REPLAGENT_LANGUAGE",
			"REPLAGENT_SYSTEM_PROMPT",
			"REPLAGENT_NUM_PREDICT",
			"REPLAGENT_DEBUG",
			"REPLAGENT_LOG_FILE",
		} {
			v := vars[k]
			data = append(data, []string{v.Name, fmt.Sprint(v.Value), v.Description})
		}

		table := newTable(cmd.OutOrStdout(), "NAME", "VALUE", "DESCRIPTION")
		table.AppendBulk(data)
		table.Render()
		return nil
	}

	if path := envconfig.ConfigPath(); path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "# loaded from %s\n", path)
	}
	fmt.Fprint(cmd.OutOrStdout(), envconfig.GenerateExampleConfig())
	return nil
}

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "replagent",
		Short:         "Constrained REPL agent turns and session logs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel(), envconfig.LogFile()))
		},
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the replagent server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
	addHistoryFlags(serveCmd)

	parseCmd := &cobra.Command{
		Use:   "parse [FILE]",
		Short: "Split an assistant turn into thought, action and code",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ParseHandler,
	}

	showCmd := &cobra.Command{
		Use:   "show SESSION.xml",
		Short: "List the events of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}
	showCmd.Flags().Bool("resume", false, "Apply resume_from events first")

	flattenCmd := &cobra.Command{
		Use:   "flatten SESSION.xml",
		Short: "Render a session as chat messages",
		Args:  cobra.ExactArgs(1),
		RunE:  FlattenHandler,
	}
	addHistoryFlags(flattenCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume SESSION.xml EVENT_ID",
		Short: "Rewind a session to just after an event",
		Args:  cobra.ExactArgs(2),
		RunE:  ResumeHandler,
	}
	resumeCmd.Flags().Bool("apply", false, "Drop the rewound events instead of recording a resume_from event")
	resumeCmd.Flags().StringP("output", "o", "", "Write the session here instead of in place")

	sessionsCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List sessions stored on the server",
		Args:    cobra.ExactArgs(0),
		RunE:    ListHandler,
	}

	rmCmd := &cobra.Command{
		Use:   "rm ID [ID...]",
		Short: "Delete sessions stored on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE:  DeleteHandler,
	}

	datasetCmd := &cobra.Command{
		Use:   "dataset DIR",
		Short: "Export a directory of sessions as JSONL conversations",
		Args:  cobra.ExactArgs(1),
		RunE:  DatasetHandler,
	}
	datasetCmd.Flags().StringP("output", "o", "", "Write the dataset to a file")
	addHistoryFlags(datasetCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print an example configuration file",
		Args:  cobra.ExactArgs(0),
		RunE:  ConfigHandler,
	}
	configCmd.Flags().Bool("env", false, "Show the environment variables and their values instead")

	rootCmd.AddCommand(
		serveCmd,
		parseCmd,
		showCmd,
		flattenCmd,
		resumeCmd,
		sessionsCmd,
		rmCmd,
		datasetCmd,
		configCmd,
	)

	return rootCmd
}

// Execute runs the CLI until ctx is done.
func Execute(ctx context.Context) error {
	return NewCLI().ExecuteContext(ctx)
}
