/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"
	"github.com/jinzhu/gorm"
	dbconf "github.com/kthomas/go-db-config"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/gateway"
	"github.com/provideplatform/ussd/ledger"
	"github.com/provideplatform/ussd/logic"
	"github.com/provideplatform/ussd/menu"
	"github.com/provideplatform/ussd/processor"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
	"github.com/provideplatform/ussd/translation"
)

const runloopSleepInterval = 250 * time.Millisecond
const runloopTickInterval = 5000 * time.Millisecond
const shutdownTimeout = 10 * time.Second

var (
	cancelF     context.CancelFunc
	closing     uint32
	shutdownCtx context.Context
	sigs        chan os.Signal

	srv *http.Server
	wg  sync.WaitGroup
)

// service is every component of a running ussd instance
type service struct {
	config     *common.Config
	cache      *cache.RedisCache
	db         *gorm.DB
	dispatcher tasks.Dispatcher
	catalog    *translation.Catalog
	languages  []translation.Language
	machine    *state.Machine
}

func main() {
	common.Log.Debugf("starting ussd API...")
	installSignalHandlers()

	svc, err := requireService()
	if err != nil {
		common.Log.Panicf("failed to initialize ussd service; %s", err.Error())
	}

	tasks.RequireCallbackSubscriptions(
		tasks.NewCallbackHandler(svc.cache, svc.db, svc.dispatcher, svc.catalog, svc.config),
		&wg,
	)
	runAPI(svc)

	timer := time.NewTicker(runloopTickInterval)
	defer timer.Stop()

	for !shuttingDown() {
		select {
		case <-timer.C:
			// no-op
		case sig := <-sigs:
			common.Log.Debugf("received signal: %s", sig)
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := srv.Shutdown(ctx); err != nil {
				common.Log.Warningf("failed to shut down API gracefully; %s", err.Error())
			}
			cancel()
			shutdown()
		case <-shutdownCtx.Done():
			close(sigs)
		default:
			time.Sleep(runloopSleepInterval)
		}
	}

	if err := svc.cache.Close(); err != nil {
		common.Log.Warningf("failed to close redis connection; %s", err.Error())
	}
	common.Log.Debug("exiting ussd API")
	cancelF()
}

// requireService resolves configuration and every startup dependency; any
// failure is a startup integrity failure
func requireService() (*service, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, err
	}

	c, err := cache.NewRedisCache(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, &common.InitializationError{Reason: fmt.Sprintf("redis unavailable; %s", err.Error())}
	}

	if _, err := ledger.RequireDefaultToken(c, cfg.ChainSpec, cfg.DefaultTokenSymbol, cfg.DefaultTokenDecimals); err != nil {
		return nil, err
	}

	catalog, err := translation.LoadCatalog(cfg.LocalePath, cfg.LocaleFallback)
	if err != nil {
		return nil, err
	}
	languages, err := translation.LoadLanguages(cfg.LanguagesFile)
	if err != nil {
		return nil, &common.InitializationError{Reason: err.Error()}
	}

	dispatcher := &tasks.NatsDispatcher{}
	graph, err := state.LoadGraph(cfg.MachineFile)
	if err != nil {
		return nil, &common.InitializationError{Reason: err.Error()}
	}
	machine, err := state.New(graph, logic.NewRegistry(&logic.Dependencies{
		Config:     cfg,
		Cache:      c,
		Dispatcher: dispatcher,
		Notifier:   tasks.NewNotifier(dispatcher, catalog),
		Catalog:    catalog,
		Languages:  languages,
	}))
	if err != nil {
		return nil, err
	}

	return &service{
		config:     cfg,
		cache:      c,
		db:         dbconf.DatabaseConnection(),
		dispatcher: dispatcher,
		catalog:    catalog,
		languages:  languages,
		machine:    machine,
	}, nil
}

func runAPI(svc *service) {
	tasks.RequireNatsStream()

	sessions := store.NewStore(svc.cache, svc.db, svc.config, store.NewRedisPool(svc.config.RedisAddr(), svc.config.RedisPassword, svc.config.RedisDB))
	assembler := menu.NewAssembler(svc.config, svc.cache, svc.db, svc.catalog, svc.languages)
	p := processor.New(svc.config, svc.cache, svc.db, sessions, svc.machine, assembler, svc.dispatcher, svc.catalog)
	g := gateway.New(svc.config, svc.cache, svc.db, p, sessions, tasks.NewNotifier(svc.dispatcher, svc.catalog), gateway.NewMetrics())

	r := gin.Default()
	r.Use(gin.Recovery())
	g.InstallAPI(r)

	srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", svc.config.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to serve ussd API; %s", err.Error())
		}
	}()

	common.Log.Debugf("listening on %s", srv.Addr)
}

func installSignalHandlers() {
	common.Log.Debug("installing signal handlers for ussd API")
	sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	shutdownCtx, cancelF = context.WithCancel(context.Background())
}

func shutdown() {
	if atomic.AddUint32(&closing, 1) == 1 {
		common.Log.Debug("shutting down ussd API")
		cancelF()
	}
}

func shuttingDown() bool {
	return (atomic.LoadUint32(&closing) > 0)
}
