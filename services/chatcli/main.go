// chatcli: терминальный клиент. Список чатов, открытый тред и заявки в друзья
// обновляются событиями шлюза.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chatsync/internal/client"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const help = `commands:
  /chats                   list chats
  /open <n>                open chat number n from /chats
  <text>                   send to the open chat
  /reply <msgId> <text>    reply to a message
  /edit <msgId> <text>     edit your message
  /unsend <msgId>          unsend your message
  /react <msgId> <emoji>   toggle a reaction
  /new <userId>...         start a chat (3+ participants make a group)
  /rename <name>           rename the open chat
  /leave | /delete         leave or delete the open chat
  /friend <email>          send a friend request
  /friends                 list friends
  /requests                list friend requests
  /accept <id> | /reject <id>
  /quit`

type app struct {
	api    *client.API
	me     model.UserPublic
	list   *client.ChatList
	thread *client.Thread
	reqs   *client.Requests
	shown  []model.Chat
}

func main() {
	logger.SetPrefix("chatcli")
	apiURL := flag.String("api", "http://localhost:8080", "API base URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	name := flag.String("signup", "", "create the account with this display name first")
	flag.Parse()
	logger.SetLevel(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *apiURL, *email, *password, *name); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, apiURL, email, password, name string) error {
	api := client.NewAPI(apiURL, nil)
	var (
		sess *client.Session
		err  error
	)
	if name != "" {
		sess, err = api.SignUp(ctx, name, email, password)
	} else {
		sess, err = api.Login(ctx, email, password)
	}
	if err != nil {
		return err
	}
	rc, err := api.RealtimeConfig(ctx)
	if err != nil {
		return err
	}
	chats, err := api.Chats(ctx)
	if err != nil {
		return err
	}
	requests, err := api.Requests(ctx)
	if err != nil {
		return err
	}

	a := &app{api: api, me: sess.User}
	conn := client.NewConn(client.ConnOptions{URL: rc.WSURL, Header: api.AuthHeader()})
	mux := client.NewMux(conn)
	conn.OnEvent(mux.Dispatch)

	a.thread = client.NewThread(mux.Scope())
	a.list = client.NewChatList(a.me.ID, mux.Scope(), func(chatID string) {
		if chatID == "" {
			_ = a.thread.Close()
			fmt.Println("-- the open chat is gone")
		}
	}, chats)
	a.reqs = client.NewRequests(a.me.ID, mux.Scope(), requests)
	a.thread.OnChange(a.renderThread)
	a.reqs.OnChange(func(rs []model.FriendRequest) {
		if n := len(a.reqs.Incoming()); n > 0 {
			fmt.Printf("-- %d pending friend request(s), /requests to see them\n", n)
		}
	})
	if err := a.list.Start(); err != nil {
		return err
	}
	if err := a.reqs.Start(); err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", rc.WSURL, err)
	}
	defer conn.Close()

	resync := &client.Resync{
		Interval: time.Duration(rc.ResyncIntervalSeconds) * time.Second,
		List:     a.list,
		Fetch:    api.Chats,
	}
	go resync.Run(ctx)

	fmt.Printf("signed in as %s (%s)\n%s\n", a.me.Name, a.me.ID, help)
	a.printChats()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.exec(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Println("error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (a *app) exec(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, a.send(ctx, line, "")
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	arg, tail, _ := strings.Cut(rest, " ")
	chatID := a.thread.ChatID()

	switch cmd {
	case "/quit":
		return true, nil
	case "/help":
		fmt.Println(help)
	case "/chats":
		a.printChats()
	case "/open":
		return false, a.open(ctx, arg)
	case "/reply":
		return false, a.send(ctx, tail, arg)
	case "/edit":
		_, err := a.api.Edit(ctx, chatID, arg, tail)
		return false, err
	case "/unsend":
		_, err := a.api.Unsend(ctx, chatID, arg)
		return false, err
	case "/react":
		_, err := a.api.React(ctx, chatID, arg, tail)
		return false, err
	case "/new":
		c, err := a.api.CreateChat(ctx, strings.Fields(rest), "")
		if err != nil {
			return false, err
		}
		fmt.Printf("-- chat %s ready\n", client.DisplayName(*c, a.me.ID))
	case "/rename":
		return false, a.api.RenameChat(ctx, chatID, rest)
	case "/leave":
		return false, a.api.LeaveChat(ctx, chatID)
	case "/delete":
		return false, a.api.DeleteChat(ctx, chatID)
	case "/friend":
		_, err := a.api.SendRequest(ctx, arg)
		return false, err
	case "/friends":
		users, err := a.api.Friends(ctx)
		if err != nil {
			return false, err
		}
		for _, u := range users {
			fmt.Printf("  %s  %s <%s>\n", u.ID, u.Name, u.Email)
		}
	case "/requests":
		for _, r := range a.reqs.Snapshot() {
			who := r.SenderID
			if r.Sender != nil {
				who = r.Sender.Name
			}
			fmt.Printf("  %s  from %s  %s\n", r.ID, who, r.Status)
		}
	case "/accept":
		_, err := a.api.AcceptRequest(ctx, arg)
		return false, err
	case "/reject":
		_, err := a.api.RejectRequest(ctx, arg)
		return false, err
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	return false, nil
}

func (a *app) send(ctx context.Context, text, parentID string) error {
	chatID := a.thread.ChatID()
	if chatID == "" {
		return errors.New("no chat open, use /open <n>")
	}
	_, err := a.api.Send(ctx, chatID, text, parentID)
	return err
}

func (a *app) open(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(a.shown) {
		return fmt.Errorf("no chat #%s, see /chats", arg)
	}
	c := a.shown[n-1]
	backfill, err := a.api.Messages(ctx, c.ID, 0)
	if err != nil {
		return err
	}
	a.list.SetOpen(c.ID)
	fmt.Printf("== %s\n", client.DisplayName(c, a.me.ID))
	return a.thread.Open(c.ID, backfill)
}

func (a *app) printChats() {
	a.shown = a.list.Snapshot()
	if len(a.shown) == 0 {
		fmt.Println("  no chats yet")
	}
	for i, c := range a.shown {
		fmt.Printf("  %d. %s: %s\n", i+1, client.DisplayName(c, a.me.ID), client.PreviewText(c))
	}
}

func (a *app) renderThread(msgs []model.Message) {
	now := time.Now()
	rows := client.Layout(msgs)
	if len(rows) > 10 {
		rows = rows[len(rows)-10:]
	}
	fmt.Println("----")
	for _, r := range rows {
		m := r.Message
		if r.Separator {
			fmt.Printf("        %s\n", client.FormatTimestamp(m.CreatedAt, now))
		}
		if r.ShowAuthor && m.Author != nil {
			fmt.Printf("  %s:\n", m.Author.Name)
		}
		line := "    " + m.Text
		if m.EditedAt != nil {
			line += " (edited)"
		}
		for _, re := range m.Reactions {
			line += " " + re.Emoji
		}
		fmt.Printf("%s  [%s]\n", line, m.ID)
	}
}
