package main

import (
	"errors"
	"fmt"

	"ccwallet/pkg/config"
	"ccwallet/pkg/info"
	"ccwallet/pkg/model"
	"ccwallet/pkg/xetcd"
	"ccwallet/pkg/xnats"
)

// migrate prepares mysql, etcd and nats for this release
//
//	1. refuse to run when a newer release already migrated the database
//	2. create or update the wallet tables
//	3. announce the nats url in etcd and create the stream
//	4. record this release as the schema release
func migrate() (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("migrate failed with err:%s", err)
		}
	}()

	// 1. Check the recorded release

	if xetcd.Shared != nil {
		var prev string
		prev, err = xetcd.Get(xetcd.KeySchemaRelease())
		switch {
		case errors.Is(err, xetcd.ErrNotFound):
			logger.Infof("no schema release recorded yet")
		case err != nil:
			return
		default:
			ver, dist, perr := info.ParseRelease(prev)
			if perr != nil {
				return fmt.Errorf("recorded schema release %q: %w", prev, perr)
			}
			newer, perr := info.IsNewerVersion(ver, dist, info.Version, info.Dist)
			if perr != nil {
				return perr
			}
			if newer {
				return fmt.Errorf("database was migrated by %s, newer than %s", prev, info.Release())
			}
		}
	}

	// 2. Prepare database

	if err = model.Migrate(model.GetDB()); err != nil {
		return
	}
	logger.Infof("tables migrated")

	// 3. Prepare nats

	if url := config.Shared.Nats.Url; url != "" {
		stream := config.Shared.Nats.Stream
		if xetcd.Shared != nil {
			if err = xetcd.Put(xetcd.KeyNatsService(stream), url); err != nil {
				return
			}
		}

		nc, js, cerr := xnats.Connect(url)
		if cerr != nil {
			return cerr
		}
		defer nc.Close()
		if err = xnats.EnsureStream(js, stream); err != nil {
			return
		}
		logger.Infof("nats stream %s ready on %s", stream, url)
	}

	// 4. Record the release

	if xetcd.Shared != nil {
		if err = xetcd.Put(xetcd.KeySchemaRelease(), info.Release()); err != nil {
			return
		}
	}

	logger.Infof("migrated to %s", info.Release())
	return nil
}
