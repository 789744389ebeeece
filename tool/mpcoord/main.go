/*
 * mpcoord
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command mpcoord runs the servers of the MPC coordination cluster: the
// coordinator, a computation party or the data consumer API.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/config"
	"github.com/gravitational/mpcoord/lib/consumer"
	"github.com/gravitational/mpcoord/lib/coordinator"
	"github.com/gravitational/mpcoord/lib/defaults"
	"github.com/gravitational/mpcoord/lib/mpspdz"
	"github.com/gravitational/mpcoord/lib/party"
	"github.com/gravitational/mpcoord/lib/ports"
	"github.com/gravitational/mpcoord/lib/queue"
	"github.com/gravitational/mpcoord/lib/storage"
	"github.com/gravitational/mpcoord/lib/tlsn"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

// secondsValue is a kingpin flag value accepting either a Go duration
// string or a bare integer number of seconds, the form the deployment
// environment variables carry.
type secondsValue struct {
	d *time.Duration
}

func (v secondsValue) Set(s string) error {
	d, err := config.ParseSecondsOrDuration(s)
	if err != nil {
		return trace.Wrap(err)
	}
	*v.d = d
	return nil
}

func (v secondsValue) String() string {
	return v.d.String()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("mpcoord", "MPC coordination cluster server")
	app.Version(mpcoord.Version)
	debug := app.Flag("debug", "Enable verbose logging").Bool()

	var cluster config.Cluster
	var partyHosts, partyPorts string
	app.Flag("num-parties", "Expected computation cluster size, cross-checked against the host list").
		Envar(defaults.NumPartiesEnvar).IntVar(&cluster.NumParties)
	app.Flag("party-hosts", "Comma-separated party hostnames").
		Envar(defaults.PartyHostsEnvar).StringVar(&partyHosts)
	app.Flag("party-ports", "Comma-separated party API ports").
		Envar(defaults.PartyPortsEnvar).StringVar(&partyPorts)
	app.Flag("party-api-key", "Shared secret guarding the party APIs").
		Envar(defaults.PartyAPIKeyEnvar).StringVar(&cluster.APIKey)
	app.Flag("party-web-protocol", "Scheme used to reach party servers, http or https").
		Envar(defaults.PartyWebProtocolEnvar).StringVar(&cluster.WebProtocol)

	var coordCfg config.Coordinator
	var coordVerifierCmd string
	coordCmd := app.Command("coordinator", "Run the session coordinator")
	coordCmd.Flag("listen", "Address the public API listens on").
		Envar(defaults.PortEnvar).StringVar(&coordCfg.ListenAddr)
	coordCmd.Flag("database", "Session database file").
		Envar(defaults.DatabasePathEnvar).StringVar(&coordCfg.DatabasePath)
	coordCmd.Flag("proofs-dir", "Directory holding accepted proofs").StringVar(&coordCfg.ProofsDir)
	coordCmd.Flag("free-ports-start", "First MPC session port").
		Envar(defaults.FreePortsStartEnvar).IntVar(&coordCfg.FreePortsStart)
	coordCmd.Flag("free-ports-end", "Last MPC session port, inclusive").
		Envar(defaults.FreePortsEndEnvar).IntVar(&coordCfg.FreePortsEnd)
	coordCmd.Flag("user-queue-size", "Admission queue capacity").
		Envar(defaults.UserQueueSizeEnvar).IntVar(&coordCfg.UserQueueSize)
	coordCmd.Flag("user-queue-head-timeout", "Idle queue head eviction timeout, duration or integer seconds").
		Envar(defaults.UserQueueHeadTimeoutEnvar).SetValue(secondsValue{&coordCfg.UserQueueHeadTimeout})
	coordCmd.Flag("max-client-id", "Exclusive upper bound on client ids").
		Envar(defaults.MaxClientIDEnvar).IntVar(&coordCfg.MaxClientID)
	coordCmd.Flag("prohibit-multiple-contributions", "Reject repeat contributions per uid").
		Envar(defaults.ProhibitMultipleEnvar).BoolVar(&coordCfg.ProhibitMultipleContributions)
	coordCmd.Flag("perform-commitment-check", "Cross-check party commitments against the proof hash").
		Envar(defaults.PerformCommitmentCheckEnvar).BoolVar(&coordCfg.PerformCommitmentCheck)
	coordCmd.Flag("verifier-dir", "Working directory of the proof verifier").
		Envar(defaults.TLSNVerifierPathEnvar).StringVar(&coordCfg.VerifierDir)
	coordCmd.Flag("verifier-cmd", "Proof verifier command").StringVar(&coordVerifierCmd)

	var partyCfg config.Party
	var partyVerifierCmd string
	partyCmd := app.Command("party", "Run a computation party server")
	partyCmd.Flag("party-id", "This party's index").
		Envar(defaults.PartyIDEnvar).IntVar(&partyCfg.PartyID)
	partyCmd.Flag("listen", "Address the party API listens on").
		Envar(defaults.PortEnvar).StringVar(&partyCfg.ListenAddr)
	partyCmd.Flag("mpspdz-root", "MP-SPDZ project root").
		Envar(defaults.MPSPDZRootEnvar).StringVar(&partyCfg.MPSPDZRoot)
	partyCmd.Flag("mpspdz-protocol", "MP-SPDZ virtual machine flavor").
		Envar(defaults.MPSPDZProtocolEnvar).StringVar(&partyCfg.MPSPDZProtocol)
	partyCmd.Flag("sharing-template", "Sharing MPC program template file").
		StringVar(&partyCfg.SharingTemplatePath)
	partyCmd.Flag("query-template", "Query MPC program template file").
		StringVar(&partyCfg.QueryTemplatePath)
	partyCmd.Flag("max-data-providers", "Secret slots of the MPC programs").
		Envar(defaults.MaxDataProvidersEnvar).IntVar(&partyCfg.MaxDataProviders)
	partyCmd.Flag("perform-commitment-check", "Compare the MPC commitment with the proof hash").
		Envar(defaults.PerformCommitmentCheckEnvar).BoolVar(&partyCfg.PerformCommitmentCheck)
	partyCmd.Flag("verifier-dir", "Working directory of the proof verifier").
		Envar(defaults.TLSNVerifierPathEnvar).StringVar(&partyCfg.VerifierDir)
	partyCmd.Flag("verifier-cmd", "Proof verifier command").StringVar(&partyVerifierCmd)

	var consumerCfg config.Consumer
	var consumerClientCmd string
	consumerCmd := app.Command("consumer", "Run the data consumer API")
	consumerCmd.Flag("listen", "Address the consumer API listens on").
		Envar(defaults.PortEnvar).StringVar(&consumerCfg.ListenAddr)
	consumerCmd.Flag("coordinator-url", "Coordinator public API base URL").
		Envar(defaults.CoordinatorURLEnvar).StringVar(&consumerCfg.CoordinatorURL)
	consumerCmd.Flag("client-id", "Client id the consumer uses towards the parties").
		IntVar(&consumerCfg.ClientID)
	consumerCmd.Flag("client-cert", "Consumer certificate file").
		StringVar(&consumerCfg.ClientCertPath)
	consumerCmd.Flag("client-cmd", "External MP-SPDZ client command").
		StringVar(&consumerClientCmd)
	consumerCmd.Flag("client-dir", "Working directory of the MP-SPDZ client").
		StringVar(&consumerCfg.ClientDir)
	consumerCmd.Flag("cache-ttl", "Aggregate cache refresh period, duration or integer seconds").
		Envar(defaults.CacheTTLSecondsEnvar).SetValue(secondsValue{&consumerCfg.CacheTTL})

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logutils.Initialize(level)

	cluster.PartyHosts = config.ParseStringList(partyHosts)
	cluster.PartyPorts, err = config.ParseIntList(partyPorts)
	if err != nil {
		return trace.Wrap(err)
	}

	switch command {
	case coordCmd.FullCommand():
		coordCfg.Cluster = cluster
		coordCfg.VerifierCommand = strings.Fields(coordVerifierCmd)
		return trace.Wrap(runCoordinator(coordCfg))
	case partyCmd.FullCommand():
		partyCfg.Cluster = cluster
		partyCfg.VerifierCommand = strings.Fields(partyVerifierCmd)
		return trace.Wrap(runParty(partyCfg))
	case consumerCmd.FullCommand():
		consumerCfg.ClientCommand = strings.Fields(consumerClientCmd)
		return trace.Wrap(runConsumer(consumerCfg))
	}
	return trace.BadParameter("unknown command %q", command)
}

func runCoordinator(cfg config.Coordinator) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	store, err := storage.NewSessionStore(cfg.DatabasePath)
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()

	userQueue, err := queue.New(queue.Config{
		MaxSize:     cfg.UserQueueSize,
		HeadTimeout: cfg.UserQueueHeadTimeout,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	allocator, err := ports.NewAllocator(cfg.FreePortsStart, cfg.FreePortsEnd, len(cfg.PartyHosts))
	if err != nil {
		return trace.Wrap(err)
	}

	coord, err := coordinator.New(coordinator.Config{
		PartyHosts:                    cfg.PartyHosts,
		PartyPorts:                    cfg.PartyPorts,
		WebProtocol:                   cfg.WebProtocol,
		APIKey:                        cfg.APIKey,
		MaxClientID:                   cfg.MaxClientID,
		ProhibitMultipleContributions: cfg.ProhibitMultipleContributions,
		PerformCommitmentCheck:        cfg.PerformCommitmentCheck,
		ProofsDir:                     cfg.ProofsDir,
		Queue:                         userQueue,
		Ports:                         allocator,
		Store:                         store,
		Verifier: &tlsn.ExecVerifier{
			Dir:     cfg.VerifierDir,
			Command: cfg.VerifierCommand,
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	srv, err := coordinator.NewAPIServer(coord)
	if err != nil {
		return trace.Wrap(err)
	}
	slog.Info("Coordinator listening", "addr", cfg.ListenAddr)
	return trace.Wrap(http.ListenAndServe(cfg.ListenAddr, srv))
}

func runParty(cfg config.Party) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	sharingTemplate, err := os.ReadFile(cfg.SharingTemplatePath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	queryTemplate, err := os.ReadFile(cfg.QueryTemplatePath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}

	mpcEngine := &mpspdz.ExecEngine{
		Root:     cfg.MPSPDZRoot,
		Protocol: cfg.MPSPDZProtocol,
		PartyID:  cfg.PartyID,
	}
	if err := mpcEngine.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	shares := &party.ShareStore{Root: cfg.MPSPDZRoot, PartyID: cfg.PartyID}
	if err := shares.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	playerData := &party.PlayerData{Dir: filepath.Join(cfg.MPSPDZRoot, defaults.PlayerDataDir)}
	if err := playerData.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}

	engine, err := party.NewEngine(party.EngineConfig{
		PartyID:                cfg.PartyID,
		PartyHosts:             cfg.PartyHosts,
		PartyPorts:             cfg.PartyPorts,
		WebProtocol:            cfg.WebProtocol,
		APIKey:                 cfg.APIKey,
		MaxDataProviders:       cfg.MaxDataProviders,
		PerformCommitmentCheck: cfg.PerformCommitmentCheck,
		SharingTemplate:        string(sharingTemplate),
		QueryTemplate:          string(queryTemplate),
		Verifier: &tlsn.ExecVerifier{
			Dir:     cfg.VerifierDir,
			Command: cfg.VerifierCommand,
		},
		MPC:        mpcEngine,
		Shares:     shares,
		PlayerData: playerData,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	srv, err := party.NewAPIServer(party.APIServerConfig{Engine: engine, APIKey: cfg.APIKey})
	if err != nil {
		return trace.Wrap(err)
	}
	slog.Info("Party listening", "party_id", cfg.PartyID, "addr", cfg.ListenAddr)
	return trace.Wrap(http.ListenAndServe(cfg.ListenAddr, srv))
}

func runConsumer(cfg config.Consumer) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	clientCert, err := os.ReadFile(cfg.ClientCertPath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	coordClient, err := client.NewCoordinatorClient(cfg.CoordinatorURL)
	if err != nil {
		return trace.Wrap(err)
	}
	runner, err := consumer.NewSessionRunner(consumer.SessionRunnerConfig{
		Coordinator: coordClient,
		MPC: &consumer.ExecQueryClient{
			Dir:     cfg.ClientDir,
			Command: cfg.ClientCommand,
		},
		ClientID:   cfg.ClientID,
		ClientCert: string(clientCert),
	})
	if err != nil {
		return trace.Wrap(err)
	}
	cache, err := consumer.NewCache(consumer.CacheConfig{
		Runner: runner,
		TTL:    cfg.CacheTTL,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer cache.Close()

	srv, err := consumer.NewAPIServer(cache)
	if err != nil {
		return trace.Wrap(err)
	}
	slog.Info("Consumer API listening", "addr", cfg.ListenAddr)
	return trace.Wrap(http.ListenAndServe(cfg.ListenAddr, srv))
}
