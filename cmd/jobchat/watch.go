package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jobchat/internal/chatclient"
	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/storage"
	"github.com/jobchat/internal/storage/file"
	"github.com/jobchat/internal/storage/memory"
	"github.com/jobchat/internal/stream"
)

type watchOptions struct {
	api        string
	token      string
	user       int64
	candidates []int64
	mark       bool
	session    string
}

func watchCmd() *cobra.Command {
	var o watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the read status of candidate chats live",
		Long: `watch looks up the candidate-prospect chat of every --candidate and
prints each chat's read status and the combined unread indicator as they
change. Without --candidate it follows every chat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&o.api, "api", "http://localhost:8080/api/admin", "backend base URL including the API prefix")
	cmd.Flags().StringVar(&o.token, "token", "", "access token to use")
	cmd.Flags().Int64Var(&o.user, "user", 0, "log in as this user id")
	cmd.Flags().Int64SliceVar(&o.candidates, "candidate", nil, "candidate id to follow (repeatable)")
	cmd.Flags().BoolVar(&o.mark, "mark", false, "mark the followed chats as read")
	cmd.Flags().StringVar(&o.session, "session", "", "file to keep the session in between runs")
	return cmd
}

// printer сериализует вывод из колбэков потоков.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func readWord(read bool) string {
	if read {
		return "read"
	}
	return "unread"
}

func runWatch(ctx context.Context, out io.Writer, o watchOptions) error {
	var kv storage.KV = memory.New()
	if o.session != "" {
		f, err := file.Open(o.session)
		if err != nil {
			return err
		}
		kv = f
	}
	defer kv.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := chatclient.NewSessionStore(kv, chatclient.DefaultSessionPrefix)
	if o.token != "" {
		if err := sess.SetToken(ctx, o.token); err != nil {
			return err
		}
	}
	api := chatclient.NewHTTPTransport(o.api, sess)
	api.OnAuthExpired = func(string) {
		logger.Error("session expired, log in again")
		cancel()
	}

	if o.user > 0 {
		if _, err := api.Login(ctx, model.LoginRequest{UserID: o.user}); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	me, err := api.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	wsURL, err := chatclient.PushURL(api.BaseURL())
	if err != nil {
		return err
	}
	pushConn, err := chatclient.DialPush(ctx, wsURL, sess)
	if err != nil {
		if errors.Is(err, chatclient.ErrUnauthorized) {
			api.Expire(ctx)
		}
		return fmt.Errorf("connect push: %w", err)
	}
	defer pushConn.Close()
	pushConn.OnUnauthorized = func() { api.Expire(context.Background()) }

	svc := chatclient.NewService(api, pushConn, me.ID)
	defer svc.CleanUp()

	p := &printer{out: out}
	errSub := svc.Errors().Subscribe(stream.Observer[error]{
		Next: func(err error) { logger.Errorf("watch: %v", err) },
	})
	defer errSub.Unsubscribe()

	chats, err := watchedChats(ctx, svc, o.candidates, p)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		p.printf("no chats to follow\n")
		return nil
	}

	for _, c := range chats {
		sub := svc.ReadStatus(c).Subscribe(stream.Observer[bool]{
			Next:  func(read bool) { p.printf("chat %d: %s\n", c.ID, readWord(read)) },
			Error: func(err error) { p.printf("chat %d: %v\n", c.ID, err) },
		})
		defer sub.Unsubscribe()
	}

	ancestor := stream.NewBehaviorWith(true)
	ancestorSub := ancestor.Subscribe(stream.Observer[bool]{
		Next: func(read bool) { p.printf("all chats: %s\n", readWord(read)) },
	})
	defer ancestorSub.Unsubscribe()

	tracker := chatclient.NewReadTracker(svc, ancestor)
	defer tracker.Close()
	indSub := tracker.Indicators().Subscribe(stream.Observer[chatclient.Indicator]{
		Next: func(i chatclient.Indicator) { p.printf("indicator: %q\n", i.String()) },
	})
	defer indSub.Unsubscribe()
	tracker.SetVisible(chats)

	if o.mark {
		for _, c := range chats {
			if err := <-svc.MarkAsRead(ctx, c); err != nil {
				return fmt.Errorf("mark chat %d: %w", c.ID, err)
			}
		}
	}

	<-ctx.Done()
	if err := tracker.Err(); err != nil {
		logger.Errorf("watch: last unread recheck failed: %v", err)
	}
	return nil
}

func watchedChats(ctx context.Context, svc *chatclient.Service, candidates []int64, p *printer) ([]*model.Chat, error) {
	if len(candidates) == 0 {
		all, err := svc.Chats(ctx)
		if err != nil {
			return nil, err
		}
		chats := make([]*model.Chat, 0, len(all))
		for i := range all {
			chats = append(chats, &all[i])
		}
		return chatclient.RemoveDuplicateChats(chats), nil
	}
	var chats []*model.Chat
	for _, id := range candidates {
		c, err := svc.CandidateProspectChat(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", id, err)
		}
		if c == nil {
			p.printf("candidate %d: no chat yet\n", id)
			continue
		}
		chats = append(chats, c)
	}
	return chatclient.RemoveDuplicateChats(chats), nil
}
