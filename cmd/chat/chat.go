package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"chat-relay/internal/session"
)

type chatOptions struct {
	url            string
	password       string
	secret         string
	system         string
	preset         string
	temperature    int
	temperatureSet bool
	presetsFile    string
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, out, errOut io.Writer) error {
	store, err := openStore(opts.presetsFile)
	if err != nil {
		return err
	}

	temp := opts.temperature
	if opts.temperatureSet {
		if err := store.SetTemperature(temp); err != nil {
			return err
		}
	} else if temp, err = store.Temperature(); err != nil {
		return err
	}

	system := opts.system
	if opts.preset != "" {
		p, err := store.Find(opts.preset)
		if err != nil {
			return err
		}
		system = p.Settings
	}

	client, err := session.NewClient(opts.url, session.WithPassword(opts.password), session.WithSecret(opts.secret))
	if err != nil {
		return err
	}
	ctrl, err := session.NewController(client,
		session.WithTemperature(float64(temp)),
		session.WithChunkHandler(func(s string) { _, _ = io.WriteString(out, s) }),
	)
	if err != nil {
		return err
	}
	if system != "" {
		if err := ctrl.SetSystem(system); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	lines := readLines(in)
	defer lines.stop()

	fmt.Fprintln(errOut, "Ctrl-C stops a reply, /retry regenerates, /clear resets, /quit exits.")
	for {
		fmt.Fprint(errOut, "> ")
		var line string
		select {
		case l, ok := <-lines.c:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		case <-sig:
			return nil
		case <-ctx.Done():
			return nil
		}

		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			if err := ctrl.Clear(); err != nil {
				fmt.Fprintln(errOut, "error:", err)
			}
			continue
		case "/retry":
			generate(ctx, ctrl, sig, out, errOut, ctrl.Retry)
		default:
			generate(ctx, ctrl, sig, out, errOut, func(ctx context.Context) error {
				return ctrl.Submit(ctx, line)
			})
		}
	}
}

// lineReader feeds input lines to the chat loop until stop is called or the
// input ends.
type lineReader struct {
	c    chan string
	done chan struct{}
	once sync.Once
}

func readLines(in io.Reader) *lineReader {
	lr := &lineReader{c: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(lr.c)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lr.c <- sc.Text():
			case <-lr.done:
				return
			}
		}
	}()
	return lr
}

func (lr *lineReader) stop() {
	lr.once.Do(func() { close(lr.done) })
}

// generate runs one turn, turning Ctrl-C into Stop until it returns.
func generate(ctx context.Context, ctrl *session.Controller, sig <-chan os.Signal, out, errOut io.Writer, turn func(context.Context) error) {
	done := make(chan error, 1)
	go func() { done <- turn(ctx) }()
	for {
		select {
		case err := <-done:
			fmt.Fprintln(out)
			if err != nil {
				reportError(errOut, err)
			}
			return
		case <-sig:
			ctrl.Stop()
		}
	}
}

func reportError(w io.Writer, err error) {
	var re *session.ResponseError
	switch {
	case errors.As(err, &re):
		fmt.Fprintf(w, "error: %s (%d)\n", re.Message, re.StatusCode)
	case errors.Is(err, session.ErrNothingRetry):
		fmt.Fprintln(w, "nothing to retry")
	default:
		fmt.Fprintln(w, "error:", err)
	}
}
