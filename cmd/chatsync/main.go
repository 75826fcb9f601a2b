// Package main is the command line front end for the conversation sync layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/verdantchat/chatsync/internal/api"
	"github.com/verdantchat/chatsync/internal/cache"
	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/internal/session"
	"github.com/verdantchat/chatsync/pkg/logger"
)

const usage = `usage: chatsync <command> [flags]

commands:
  whoami                 show the authenticated user
  logout                 end the backend session
  list                   list conversations
  show <id>              show one conversation with messages
  create                 create a conversation (-model, -provider, -title)
  send <id>              send a message (-m, -sync)
  rename <id>            rename a conversation (-title)
  delete <id>            delete a conversation
`

type app struct {
	client  *api.Client
	store   *cache.Store
	session *session.Session
}

func main() {
	godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	client, err := api.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sess := session.New(log)
	a := &app{
		client:  client,
		store:   cache.NewStore(client, sess, cfg.ListStaleTTL, cfg.DetailStaleTTL, log),
		session: sess,
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := a.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "whoami":
		return a.whoami(ctx)
	case "logout":
		return a.logout(ctx)
	case "list":
		return a.list(ctx)
	case "show":
		return a.show(ctx, args)
	case "create":
		return a.create(ctx, args)
	case "send":
		return a.send(ctx, args)
	case "rename":
		return a.rename(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) whoami(ctx context.Context) error {
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		fmt.Println("not signed in")
		return nil
	}
	fmt.Printf("%s <%s>\n", user.Name, user.Email)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	// Local state clears optimistically; the clear is re-asserted once the
	// backend confirms, in case anything repopulated it mid-flight.
	a.session.Reset()
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	a.session.Reset()
	return nil
}

func (a *app) list(ctx context.Context) error {
	convs, err := a.store.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMODEL\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.ID, c.Title, c.ModelLabel(), c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func (a *app) show(ctx context.Context, args []string) error {
	id, err := requireID(args)
	if err != nil {
		return err
	}

	conv, err := a.store.Get(ctx, id)
	if err != nil {
		if api.IsNotFound(err) {
			a.session.Clear()
			return fmt.Errorf("conversation %s no longer exists", id)
		}
		return err
	}
	a.session.Select(conv.ID)

	fmt.Printf("%s (%s)\n", conv.Title, conv.ModelLabel())
	for _, m := range conv.Messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	modelName := fs.String("model", "", "model name")
	provider := fs.String("provider", "", "model provider")
	title := fs.String("title", "", "conversation title")
	fs.Parse(args)

	conv, err := a.store.Create(ctx, *modelName, *provider, *title)
	if err != nil {
		return err
	}
	a.session.Select(conv.ID)
	a.session.BindModel(conv.ModelName, conv.ModelProvider)

	fmt.Printf("created %s (%s)\n", conv.ID, conv.Title)
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	message := fs.String("m", "", "message content")
	sync := fs.Bool("sync", false, "wait for the full response instead of streaming")
	id, err := requireID(args)
	if err != nil {
		return err
	}
	fs.Parse(args[1:])

	var onContent func(string)
	if !*sync {
		onContent = func(content string) {
			fmt.Print(content)
		}
	}

	result, err := a.store.Send(ctx, id, *message, model.SendOptions{}, onContent)
	if err != nil {
		return err
	}

	if *sync {
		fmt.Println(result.AssistantMessage.Content)
	} else {
		fmt.Println()
	}
	return nil
}

func (a *app) rename(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	title := fs.String("title", "", "new title")
	id, err := requireID(args)
	if err != nil {
		return err
	}
	fs.Parse(args[1:])

	conv, err := a.store.Rename(ctx, id, *title)
	if err != nil {
		return err
	}
	fmt.Printf("renamed %s to %q\n", conv.ID, conv.Title)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	id, err := requireID(args)
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func requireID(args []string) (string, error) {
	if len(args) < 1 || args[0] == "" {
		return "", fmt.Errorf("conversation id is required")
	}
	return args[0], nil
}
