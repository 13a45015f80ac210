package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"mp_publisher/browser"
	"mp_publisher/config"
	"mp_publisher/generator"
	"mp_publisher/imaging"
	"mp_publisher/kvstore"
	"mp_publisher/logging"
	"mp_publisher/metadata"
	"mp_publisher/publisher"
	"mp_publisher/render"
	"mp_publisher/service"
	"mp_publisher/styler"
	"mp_publisher/vault"
	"mp_publisher/wechat"
)

// app holds everything a command needs, built once from the configuration.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	vault   *vault.FileSystem
	service *service.Service
	browser *browser.Browser
}

func loadConfig(path string, verbose bool) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	} else if path != config.DefaultPath {
		return nil, fmt.Errorf("%w: %s not found", ErrConfig, path)
	} else {
		cfg = &config.Config{}
	}
	if verbose {
		cfg.Logging.Debug = true
	}
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	logger := logging.New(&cfg.Logging, stderr)
	notifier := logging.WriterNotifier(stderr)

	v, err := vault.NewFileSystem(cfg.Vault.Root)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, vault: v}

	var diagrams render.DiagramRenderer
	if cfg.Style.NeedsBrowser() {
		a.browser = browser.New(browser.Options{
			Bin:        cfg.Style.BrowserBin,
			Timeout:    cfg.Style.RenderTimeoutDuration(),
			MathJaxURL: cfg.Style.MathJaxURL,
			MermaidURL: cfg.Style.MermaidURL,
			Logger:     logger,
		})
		if cfg.Style.ConvertMermaid {
			diagrams = a.browser
		}
	}
	renderer := render.New(render.Options{Diagrams: diagrams, Logger: logger})

	newConverter := func(theme styler.Theme) (*render.Converter, error) {
		opts := render.ConverterOptions{
			ConvertMath:    cfg.Style.ConvertMath,
			ConvertMermaid: cfg.Style.ConvertMermaid,
			Logger:         logger,
		}
		if cfg.Style.IsEnabled() {
			sopts := styler.Options{Theme: theme, Logger: logger}
			if a.browser != nil {
				sopts.Math = a.browser
				sopts.Diagrams = a.browser
			}
			st, err := styler.New(sopts)
			if err != nil {
				return nil, err
			}
			opts.Styler = st
		}
		return render.NewConverter(renderer, opts), nil
	}
	conv, err := newConverter(styler.Theme(cfg.Style.Theme))
	if err != nil {
		a.Close()
		return nil, err
	}

	pub, err := newPublisher(ctx, cfg, v, logger, notifier)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = service.New(service.Options{
		Vault:        v,
		Converter:    conv,
		Themed:       newConverter,
		Publisher:    pub,
		HTTPClient:   &http.Client{Timeout: cfg.WeChat.TimeoutDuration()},
		MaxImageSize: cfg.Images.MaxBytes(),
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newPublisher returns nil without credentials so that preview and copy still work.
func newPublisher(ctx context.Context, cfg *config.Config, v vault.Vault, logger logging.Logger, notifier logging.Notifier) (*publisher.Publisher, error) {
	if !cfg.WeChat.HasCredentials() {
		logger.Debug("no wechat credentials configured, publishing disabled")
		return nil, nil
	}

	store, err := kvstore.Open(ctx, cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.WeChat.TimeoutDuration()}
	client, err := wechat.New(wechat.Options{
		AppID:          cfg.WeChat.AppID,
		AppSecret:      cfg.WeChat.AppSecret,
		BaseURL:        cfg.WeChat.BaseURL,
		HTTPClient:     httpClient,
		Store:          store,
		Logger:         logger,
		Notifier:       notifier,
		TokenRetries:   cfg.WeChat.TokenRetries,
		RequestRetries: cfg.WeChat.RequestRetries,
		BaseDelay:      cfg.WeChat.RetryDelayDuration(),
	})
	if err != nil {
		return nil, err
	}

	var summarizer publisher.Summarizer
	if cfg.LLM != nil && cfg.LLM.Provider != "" {
		llm, err := generator.NewLLM(&generator.LLMSettings{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: llm: %v", ErrConfig, err)
		}
		if summarizer, err = generator.NewSummarizer(llm, generator.DefaultDigestLength, logger); err != nil {
			return nil, err
		}
	}

	return publisher.New(publisher.Options{
		Remote:            client,
		Metadata:          metadata.NewStore(v, logger, nil),
		Vault:             v,
		HTTPClient:        httpClient,
		Normalizer:        &imaging.Normalizer{MaxDimension: cfg.Images.MaxDimension, MaxSize: cfg.Images.MaxBytes(), Logger: logger},
		Summarizer:        summarizer,
		AttachmentPattern: cfg.Vault.AttachmentPattern,
		MaxImageSize:      cfg.Images.MaxBytes(),
		Logger:            logger,
		Notifier:          notifier,
	})
}

// documentPath accepts a vault path or a file path inside the vault.
func (a *app) documentPath(arg string) (string, error) {
	if _, err := os.Stat(arg); err == nil {
		return a.vault.Rel(arg)
	}
	return arg, nil
}

func (a *app) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("close browser failed", "error", err)
		}
	}
}
