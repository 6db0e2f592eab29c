// Command kdbx inspects, compares and re-encrypts KeePass databases.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	kdbx "github.com/hoelzro/go-kdbx"
	"github.com/hoelzro/go-kdbx/dom"
)

const usage = `usage: kdbx [flags] <command> [args]

commands:
  check  FILE              verify that FILE decrypts
  dump   FILE              print the groups and entries of FILE as YAML
  search FILE QUERY        list entries whose title or tags match QUERY
  diff   FILE1 FILE2       compare the entries of two databases
  resave IN OUT            decrypt IN and encrypt it again to OUT

flags:
`

type app struct {
	cfg    Config
	log    *logrus.Logger
	stdout io.Writer

	// password prompts for a database's master password.
	password func(prompt string) (string, error)

	// modern makes resave switch to KDBX 4 parameters.
	modern bool

	// params overrides the parameters used by resave.
	params *kdbx.WriterParams
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("kdbx", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	configPath := flags.StringP("config", "c", defaultConfigPath(), "YAML configuration file")
	keyFile := flags.StringP("keyfile", "k", "", "key file to combine with the password")
	verbose := flags.BoolP("verbose", "v", false, "log progress to stderr")
	showPasswords := flags.Bool("show-passwords", false, "include passwords in dump output")
	ignoreGroups := flags.StringSlice("ignore-group", nil, "top-level group for diff to skip (repeatable)")
	modern := flags.Bool("modern", false, "resave as KDBX 4 with ChaCha20 and Argon2d")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, flags.Changed("config"))
	if err != nil {
		fmt.Fprintln(stderr, "kdbx:", err)
		return 1
	}
	if flags.Changed("keyfile") {
		cfg.KeyFile = *keyFile
	}
	if flags.Changed("ignore-group") {
		cfg.IgnoreGroups = *ignoreGroups
	}
	if *showPasswords {
		cfg.ShowPasswords = true
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	if *verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	a := &app{
		cfg:      cfg,
		log:      log,
		stdout:   stdout,
		password: readPassword,
		modern:   *modern,
	}
	if err := a.run(ctx, flags.Args()); err != nil {
		if err == errUsage {
			flags.Usage()
			return 2
		}
		fmt.Fprintln(stderr, "kdbx:", err)
		return 1
	}
	return 0
}

var errUsage = fmt.Errorf("bad usage")

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	want := map[string]int{"check": 1, "dump": 1, "search": 2, "diff": 2, "resave": 2}
	n, ok := want[cmd]
	if !ok || len(args) != n {
		return errUsage
	}
	switch cmd {
	case "check":
		return a.check(ctx, args[0])
	case "dump":
		return a.dump(ctx, args[0])
	case "search":
		return a.search(ctx, args[0], args[1])
	case "diff":
		return a.diff(ctx, args[0], args[1])
	default:
		return a.resave(ctx, args[0], args[1])
	}
}

func (a *app) options() *kdbx.Options {
	return &kdbx.Options{Logger: a.log}
}

// credentials prompts for the password of filename and adds the configured
// key file.
func (a *app) credentials(filename string) ([]kdbx.SecurityToken, error) {
	pw, err := a.password("Password for " + filename + ": ")
	if err != nil {
		return nil, err
	}
	tokens := []kdbx.SecurityToken{kdbx.Password(pw)}
	if a.cfg.KeyFile != "" {
		f, err := os.Open(a.cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		kf, err := kdbx.ReadKeyFile(f)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, kf)
	}
	return tokens, nil
}

func (a *app) decrypt(ctx context.Context, r *kdbx.Reader, filename string, tokens []kdbx.SecurityToken) (*dom.Document, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := r.DecryptFile(ctx, f, tokens...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return doc, nil
}

func (a *app) open(ctx context.Context, filename string) (*dom.Document, *kdbx.Reader, error) {
	tokens, err := a.credentials(filename)
	if err != nil {
		return nil, nil, err
	}
	r := kdbx.NewReader(a.options())
	doc, err := a.decrypt(ctx, r, filename, tokens)
	if err != nil {
		return nil, nil, err
	}
	return doc, r, nil
}

func (a *app) check(ctx context.Context, filename string) error {
	doc, r, err := a.open(ctx, filename)
	if err != nil {
		return err
	}
	h := r.Header()
	fmt.Fprintf(a.stdout, "%s: version %d.%d, %d nodes, %d attachments\n",
		filename, h.Version>>16, h.Version&0xFFFF, doc.Tree.Len(), len(doc.Metadata.Binaries))
	return nil
}

func (a *app) search(ctx context.Context, filename, query string) error {
	doc, _, err := a.open(ctx, filename)
	if err != nil {
		return err
	}
	q := dom.ParseQuery(query)
	if q == nil {
		return errUsage
	}
	for _, id := range doc.Tree.Search(doc.Tree.Root(), q) {
		fmt.Fprintf(a.stdout, "%s\t%s\n", groupPath(doc.Tree, id), doc.Tree.Node(id).Title.Value)
	}
	return nil
}

func (a *app) resave(ctx context.Context, in, out string) error {
	doc, r, err := a.open(ctx, in)
	if err != nil {
		return err
	}
	w, err := r.GetWriter()
	if err != nil {
		return err
	}
	params := a.params
	if params == nil && a.modern {
		p := kdbx.ModernWriterParams()
		params = &p
	}
	if params != nil {
		tokens, err := a.credentials(out)
		if err != nil {
			return err
		}
		w = kdbx.NewWriter(a.options(), tokens, *params)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	ok, err := w.Write(ctx, f, doc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	a.log.WithField("file", out).Info("database saved")
	return nil
}
