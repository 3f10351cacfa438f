package cmd

import (
	"errors"
	"fmt"
	"time"

	"Boombot/cache"
	"Boombot/config"
	"Boombot/core/codec"
	"Boombot/core/icecast"
	"Boombot/core/plugin"
	"Boombot/core/requests"
	"Boombot/core/search"
	"Boombot/model"

	"go.uber.org/zap"
)

// buildRegistry registers cfg.Providers in order. library and rdb may be nil;
// the library provider is skipped without object storage, and results are
// cached only when Redis is available.
func buildRegistry(cfg *config.Config, library plugin.ObjectLister, rdb cache.Client, log *zap.Logger) (*plugin.Registry, error) {
	var results search.ResultStore
	if rdb != nil {
		results = cache.NewSearchStore(rdb)
	}

	reg := plugin.NewRegistry()
	for _, name := range cfg.Providers {
		var p plugin.Provider
		switch name {
		case model.SourceNetease:
			p = plugin.NewNeteaseProvider(cfg.NeteaseAPIURL, cfg.NeteaseLimit, log)
		case model.SourceLibrary:
			if library == nil {
				log.Warn("[Setup] library provider needs object storage, skipping")
				continue
			}
			p = plugin.NewLibraryProvider(library, cfg.LibraryPrefix, cfg.LibraryLimit, log)
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}

		if results != nil {
			p = search.NewCachedProvider(p, results, cfg.SearchCacheTTL, log)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if reg.Len() == 0 {
		return nil, errors.New("no search providers available")
	}
	return reg, nil
}

func icecastConfig(cfg *config.Config) icecast.Config {
	return icecast.Config{
		Host:             cfg.IcecastHost,
		Port:             cfg.IcecastPort,
		User:             cfg.IcecastUser,
		Password:         cfg.IcecastPassword,
		Mount:            cfg.IcecastMount,
		Format:           cfg.IcecastFormat,
		Name:             cfg.IcecastName,
		Genre:            cfg.IcecastGenre,
		URL:              cfg.IcecastURL,
		Public:           cfg.IcecastPublic,
		Bitrate:          cfg.IcecastBitrate,
		SampleRate:       cfg.IcecastSampleRate,
		Channels:         cfg.IcecastChannels,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

func requestsConfig(cfg *config.Config) (requests.Config, error) {
	in, err := codec.NewChain(cfg.InEncodings)
	if err != nil {
		return requests.Config{}, fmt.Errorf("input encodings: %w", err)
	}
	out, err := codec.NewChain(cfg.OutEncodings)
	if err != nil {
		return requests.Config{}, fmt.Errorf("output encodings: %w", err)
	}
	return requests.Config{
		Addr:           cfg.ListenAddress(),
		InEncodings:    in,
		OutEncodings:   out,
		ReadTimeout:    cfg.ReadTimeout,
		ReplyTimeout:   cfg.ReplyTimeout,
		MaxConnections: cfg.MaxConnections,
	}, nil
}
