package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-assistant/internal/app"
	"github.com/dvloznov/expense-assistant/internal/config"
	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/jobs"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/media"
	"github.com/dvloznov/expense-assistant/internal/report"
	"github.com/dvloznov/expense-assistant/internal/router"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "message":
		runMessage(log)
	case "import":
		runImport(log)
	case "summary":
		runSummary(log)
	case "records":
		runRecords(log)
	case "analyze":
		runAnalyze(log)
	case "upload":
		runUpload(log)
	case "categories":
		runCategories(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Expense Assistant CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  message     Send a chat message as a user and print the reply")
	fmt.Println("  import      Import a CSV statement for a user")
	fmt.Println("  summary     Print a user's monthly summary")
	fmt.Println("  records     List a user's recorded expenses")
	fmt.Println("  analyze     Print a spending trend analysis for a user")
	fmt.Println("  upload      Archive a receipt or statement in GCS")
	fmt.Println("  categories  List the expense categories")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
	fmt.Println("Configuration is read from the environment and ./.env.")
}

// setup loads configuration and wires the assistant. Callers must Close it.
func setup(log zerolog.Logger) *app.App {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize assistant")
	}
	return a
}

func commandContext(a *app.App, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	return logger.WithContext(ctx, a.Log), cancel
}

func runMessage(log zerolog.Logger) {
	fs := flag.NewFlagSet("message", flag.ExitOnError)
	user := fs.String("user", "", "Sender identifier (e.g. phone number)")
	text := fs.String("text", "", "Message text")
	id := fs.String("id", "", "Message ID (defaults to a timestamp-based ID)")
	fs.Parse(os.Args[2:])

	if *user == "" || *text == "" {
		log.Fatal().Msg("Error: --user and --text are required")
	}
	if *id == "" {
		*id = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}

	a := setup(log)
	defer a.Close()

	ctx, cancel := commandContext(a, 2*time.Minute)
	defer cancel()

	reply := a.Router.Handle(ctx, router.Message{
		ID:         *id,
		Sender:     *user,
		Kind:       router.KindText,
		Text:       *text,
		ReceivedAt: time.Now(),
	})
	fmt.Println(reply)
}

func runImport(log zerolog.Logger) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	user := fs.String("user", "", "Sender identifier")
	file := fs.String("file", "", "Path to a CSV statement")
	caption := fs.String("caption", "", "Optional caption sent with the file")
	fs.Parse(os.Args[2:])

	if *user == "" || *file == "" {
		log.Fatal().Msg("Error: --user and --file are required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read file")
	}

	a := setup(log)
	defer a.Close()

	ctx, cancel := commandContext(a, 5*time.Minute)
	defer cancel()

	filename := filepath.Base(*file)
	reply := a.Router.Handle(ctx, router.Message{
		ID:         fmt.Sprintf("import-%s-%d", filename, time.Now().UnixNano()),
		Sender:     *user,
		Kind:       router.KindDocument,
		Text:       *caption,
		Media:      data,
		MIMEType:   mimeTypeFor(filename),
		Filename:   filename,
		ReceivedAt: time.Now(),
	})
	fmt.Println(reply)
}

func runSummary(log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	user := fs.String("user", "", "Sender identifier")
	month := fs.String("month", "", "Month as YYYY-MM (defaults to the current month)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	a := setup(log)
	defer a.Close()

	loc, _ := a.Config.Location()
	period := domain.MonthOf(time.Now().In(loc))
	if *month != "" {
		p, err := domain.ParseMonth(*month, loc)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --month, expected YYYY-MM")
		}
		period = p
	}

	ctx, cancel := commandContext(a, time.Minute)
	defer cancel()

	records, err := a.Ledger.Query(ctx, *user, &period)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query records")
	}

	summary, err := report.Summarize(records, period)
	if errors.Is(err, report.ErrNoData) {
		fmt.Println(report.NoRecordsThisMonthText)
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to summarize records")
	}
	fmt.Println(report.FormatSummary(summary, a.Taxonomy.Label))
}

func runRecords(log zerolog.Logger) {
	fs := flag.NewFlagSet("records", flag.ExitOnError)
	user := fs.String("user", "", "Sender identifier")
	month := fs.String("month", "", "Month as YYYY-MM (defaults to all records)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	a := setup(log)
	defer a.Close()

	loc, _ := a.Config.Location()
	var period *domain.Period
	if *month != "" {
		p, err := domain.ParseMonth(*month, loc)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --month, expected YYYY-MM")
		}
		period = &p
	}

	ctx, cancel := commandContext(a, time.Minute)
	defer cancel()

	records, err := a.Ledger.Query(ctx, *user, period)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query records")
	}
	if len(records) == 0 {
		fmt.Println(report.NoRecordsText)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Data", "Categoria", "Subcategoria", "Valor", "Descrição"})
	for _, rec := range records {
		table.Append([]string{
			rec.OccurredAt.In(loc).Format("02/01/2006"),
			a.Taxonomy.Label(rec.Category),
			rec.Subcategory,
			"R$ " + rec.Amount.StringFixed(2),
			rec.Description,
		})
	}
	table.Render()
	fmt.Printf("%d registros\n", len(records))
}

func runAnalyze(log zerolog.Logger) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	user := fs.String("user", "", "Sender identifier")
	fs.Parse(os.Args[2:])

	if *user == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	a := setup(log)
	defer a.Close()

	ctx, cancel := commandContext(a, a.Config.AnalysisTimeout+30*time.Second)
	defer cancel()

	records, err := a.Ledger.Query(ctx, *user, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query records")
	}

	loc, _ := a.Config.Location()
	analysisCtx, cancelAnalysis := context.WithTimeout(ctx, a.Config.AnalysisTimeout)
	defer cancelAnalysis()
	fmt.Println(report.TrendAnalysis(analysisCtx, a.Narrator, records, loc))
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	file := fs.String("file", "", "Path to the receipt or statement")
	user := fs.String("user", "", "When set, also process the archived file as a message from this user")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	a := setup(log)
	defer a.Close()

	if a.Archive == nil {
		log.Fatal().Msg("Error: MEDIA_BUCKET must be set to upload files")
	}

	ctx, cancel := commandContext(a, 5*time.Minute)
	defer cancel()

	filename := filepath.Base(*file)
	mimeType := mimeTypeFor(filename)
	owner := *user
	if owner == "" {
		owner = "cli"
	}
	messageID := fmt.Sprintf("upload-%d", time.Now().UnixNano())
	now := time.Now()

	uri, err := a.Archive.UploadFile(ctx, media.ObjectName(owner, messageID, filename, mimeType, now), *file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Upload failed")
	}
	fmt.Printf("Uploaded to %s\n", uri)

	if *user == "" {
		return
	}

	kind := router.KindDocument
	if strings.HasPrefix(mimeType, "image/") {
		kind = router.KindImage
	}
	job := &jobs.MessageJob{
		MessageID:  messageID,
		Sender:     *user,
		Kind:       string(kind),
		MediaURI:   uri,
		MIMEType:   mimeType,
		Filename:   filename,
		ReceivedAt: now,
	}
	if err := a.Worker.Handle(ctx, job); err != nil {
		log.Fatal().Err(err).Msg("Processing failed")
	}
	fmt.Println(job.Reply)
}

func runCategories(log zerolog.Logger) {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	a := setup(log)
	defer a.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Categoria", "Nome", "Subcategorias"})
	for _, c := range a.Taxonomy.Categories() {
		table.Append([]string{
			a.Taxonomy.Label(c.Name),
			c.Name,
			strings.Join(a.Taxonomy.Subcategories(c.Name), ", "),
		})
	}
	table.Render()
	fmt.Printf("Versão %d, categoria padrão: %s\n", a.Taxonomy.Version(), a.Taxonomy.Fallback())
}

func mimeTypeFor(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return strings.TrimSpace(strings.Split(t, ";")[0])
	}
	return "application/octet-stream"
}
