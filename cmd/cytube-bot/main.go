package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cytube/internal/config"
	"cytube/internal/logging"
	"cytube/internal/store"
	"cytube/pkg/cytube"
	"cytube/pkg/markup"
	"cytube/pkg/proxy"
	"cytube/pkg/socketio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CYTUBE_CONFIG_FILE"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logging.New(os.Stderr, logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	opts := cytube.Options{
		Domain:          cfg.Domain,
		Channel:         cfg.Channel.Name,
		ChannelPassword: cfg.Channel.Password,
		User:            cfg.User.Name,
		UserPassword:    cfg.User.Password,
		ResponseTimeout: cfg.Bot.ResponseTimeout,
		ReconnectDelay:  cfg.Bot.ReconnectDelay,
		GuestLoginCap:   cfg.Bot.GuestLoginCap,
		Socket: socketio.Options{
			PingInterval: cfg.Socket.PingInterval,
			PingTimeout:  cfg.Socket.PingTimeout,
		},
		Logger: log,
	}

	if len(cfg.Proxy.Routes) > 0 {
		dialer, err := proxy.NewDialer(cfg.Proxy.Routes)
		if err != nil {
			return err
		}
		opts.Socket.NetDial = dialer.DialContext
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{DialContext: dialer.DialContext},
			Timeout:   30 * time.Second,
		}
	}

	bot, err := cytube.New(opts)
	if err != nil {
		return err
	}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return err
		}
		defer st.Close()
		detach := st.Attach(bot)
		defer detach()
	}

	parser := markup.NewParser()
	bot.On("chatMsg", func(_ string, data json.RawMessage) error {
		var d struct {
			Username string `json:"username"`
			Msg      string `json:"msg"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil
		}
		log.Info().Str("from", d.Username).Str("msg", parser.Parse(d.Msg)).Msg("chat")
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("channel", cfg.Channel.Name).Msg("starting")
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
