package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/protocol"
)

// commandFlags collects repeated -command id[:title] flags.
type commandFlags []domain.UserCommand

func (c *commandFlags) String() string {
	parts := make([]string, 0, len(*c))
	for _, cmd := range *c {
		parts = append(parts, strconv.Itoa(cmd.ID)+":"+cmd.Title)
	}
	return strings.Join(parts, ",")
}

func (c *commandFlags) Set(value string) error {
	idStr, title, _ := strings.Cut(value, ":")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return fmt.Errorf("command id must be an integer: %q", idStr)
	}
	*c = append(*c, domain.UserCommand{ID: id, Title: title})
	return nil
}

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "artfeed-publish",
	})
	logger.SetDefaultLogger(appLogger)

	var commands commandFlags
	server := flag.String("server", "http://localhost:8080", "Base URL of the artfeed API")
	token := flag.String("token", "", "Source identity token (component short form)")
	selectSource := flag.Bool("select", false, "Select the token's component as the active source first")
	callback := flag.String("callback", "", "Callback URL registered with -select")
	description := flag.String("description", "", "Source description")
	wantsNetwork := flag.Bool("wants-network", false, "Source wants network access")
	next := flag.Bool("next", false, "Declare support for the next-artwork command")
	flag.Var(&commands, "command", "Custom command as id[:title]; repeatable")
	image := flag.String("image", "", "Artwork image URI; omit to publish capabilities only")
	title := flag.String("title", "", "Artwork title")
	byline := flag.String("byline", "", "Artwork byline")
	attribution := flag.String("attribution", "", "Artwork attribution")
	artworkToken := flag.String("artwork-token", "", "Source-defined artwork token")
	metaFont := flag.String("meta-font", "", "Artwork meta font")
	viewIntent := flag.String("view-intent", "", "Artwork view action URI")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	if *token == "" {
		appLogger.Error("-token is required")
		os.Exit(2)
	}

	state := &protocol.SourceState{
		Description:           *description,
		WantsNetworkAvailable: *wantsNetwork,
		UserCommands:          commands,
	}
	if *next {
		state.UserCommands = append(state.UserCommands, domain.UserCommand{ID: protocol.BuiltinCommandIDNextArtwork})
	}
	if *image != "" {
		state.CurrentArtwork = &protocol.ArtworkPayload{
			ImageURI:    *image,
			Title:       *title,
			Byline:      *byline,
			Attribution: *attribution,
			Token:       *artworkToken,
			MetaFont:    *metaFont,
		}
		if *viewIntent != "" {
			state.CurrentArtwork.ViewIntent = viewIntent
		}
	}

	msg, err := protocol.NewPublishMessage(*token, state)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to build message")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(*server, "/")).
		SetTimeout(*timeout).
		SetHeader("Content-Type", "application/json")

	if *selectSource {
		resp, err := client.R().
			SetBody(map[string]string{"component": *token, "callback_url": *callback}).
			Put("/api/v1/source")
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to select source")
		}
		if resp.IsError() {
			appLogger.WithField("status", resp.StatusCode()).Fatalf("Select rejected: %s", resp.String())
		}
		appLogger.WithField(logger.FieldSource, *token).Info("Source selected")
	}

	var result struct {
		Status  string `json:"status"`
		Outcome string `json:"outcome"`
	}
	resp, err := client.R().
		SetBody(msg).
		SetResult(&result).
		Post("/api/v1/publish")
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to publish")
	}
	if resp.IsError() {
		appLogger.WithField("status", resp.StatusCode()).Fatalf("Publish failed: %s", resp.String())
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldToken:  *token,
		logger.FieldStatus: result.Status,
		"outcome":          result.Outcome,
	}).Info("Published")
}
