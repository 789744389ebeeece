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

package party

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/tlsn"
)

const testCommitment = "28059a08d116926177e4dfd87e72da4cd44966b61acc3f21870156b868b81e6a"

// fakeMPC is an in-memory substitute for the MP-SPDZ toolchain. Run
// appends runOutput to the share file before returning, mimicking the VM
// updating its persistent shares.
type fakeMPC struct {
	sharePath string
	programs  map[string]string
	compiled  []string
	ran       []string
	runErr    error
	runOutput string
}

func newFakeMPC(sharePath string) *fakeMPC {
	return &fakeMPC{
		sharePath: sharePath,
		programs:  map[string]string{},
		runOutput: "Reg[0] = 0x" + testCommitment + " #\n",
	}
}

func (f *fakeMPC) WriteProgram(circuit, source string) error {
	f.programs[circuit] = source
	return nil
}

func (f *fakeMPC) Compile(ctx context.Context, circuit string) error {
	f.compiled = append(f.compiled, circuit)
	return nil
}

func (f *fakeMPC) Run(ctx context.Context, circuit, ipFilePath string) (string, error) {
	f.ran = append(f.ran, circuit)
	shares, _ := os.ReadFile(f.sharePath)
	if err := os.WriteFile(f.sharePath, append(shares, []byte(circuit+"\n")...), 0o600); err != nil {
		return "", trace.Wrap(err)
	}
	if f.runErr != nil {
		return "", f.runErr
	}
	// the ip file must exist while the VM runs
	if _, err := os.Stat(ipFilePath); err != nil {
		return "", trace.Wrap(err)
	}
	return f.runOutput, nil
}

func okVerifier() tlsn.Verifier {
	return tlsn.VerifierFunc(func(ctx context.Context, proof []byte) (int64, error) {
		return 42, nil
	})
}

type engineFixture struct {
	engine *Engine
	mpc    *fakeMPC
	shares *ShareStore
	peer   *httptest.Server
}

func newEngineFixture(t *testing.T, verifier tlsn.Verifier) *engineFixture {
	t.Helper()
	root := t.TempDir()

	shares := &ShareStore{Root: root, PartyID: 0}
	require.NoError(t, shares.CheckAndSetDefaults())

	playerData := &PlayerData{
		Dir:           filepath.Join(root, "Player-Data"),
		RehashCommand: []string{"true"},
	}
	require.NoError(t, playerData.CheckAndSetDefaults())
	require.NoError(t, playerData.WritePartyCert(0, "own cert"))

	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.PartyCertResponse{PartyID: 1, CertFile: "peer cert"})
	}))
	t.Cleanup(peer.Close)
	peerURL, err := url.Parse(peer.URL)
	require.NoError(t, err)
	peerPort, err := strconv.Atoi(peerURL.Port())
	require.NoError(t, err)

	mpc := newFakeMPC(shares.Path())
	engine, err := NewEngine(EngineConfig{
		PartyID:         0,
		PartyHosts:      []string{"localhost", peerURL.Hostname()},
		PartyPorts:      []int{8006, peerPort},
		Verifier:        verifier,
		MPC:             mpc,
		Shares:          shares,
		PlayerData:      playerData,
		SharingTemplate: "index = {secret_index}\nold = load()  # NOTE: Skipped if it's the first run\nport = {client_port_base}\n",
		QueryTemplate:   "port = {client_port_base}\nn = {num_data_providers}\n",
	})
	require.NoError(t, err)
	return &engineFixture{engine: engine, mpc: mpc, shares: shares, peer: peer}
}

func sharingRequest(t *testing.T) client.RequestSharingDataMPCRequest {
	t.Helper()
	hash, err := hex.DecodeString(testCommitment)
	require.NoError(t, err)
	return client.RequestSharingDataMPCRequest{
		TLSNProof:      string(tlsn.FixtureProof(4, hash)),
		MPCPortBase:    8010,
		SecretIndex:    0,
		ClientID:       5,
		ClientPortBase: 8013,
		ClientCertFile: "client cert",
	}
}

func TestShareDataFirstRun(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())

	commitment, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.NoError(t, err)
	require.Equal(t, testCommitment, commitment)

	// first run strips the share-loading line from the program
	program := fx.mpc.programs["share_data_0"]
	require.NotContains(t, program, "load()")
	require.Contains(t, program, "index = 0")
	require.Contains(t, program, "port = 8013")

	require.Equal(t, []string{"share_data_0"}, fx.mpc.compiled)
	require.True(t, fx.shares.Exists())

	// peer cert landed in the player data dir
	cert, err := fx.engine.cfg.PlayerData.ReadPartyCert(1)
	require.NoError(t, err)
	require.Equal(t, "peer cert", cert)
}

func TestShareDataKeepsLoadLineOnSecondRun(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	require.NoError(t, os.WriteFile(fx.shares.Path(), []byte("previous shares"), 0o600))

	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.NoError(t, err)
	require.Contains(t, fx.mpc.programs["share_data_0"], "load()")
}

func TestShareDataRejectsSecretIndexOverflow(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())

	req := sharingRequest(t)
	req.SecretIndex = fx.engine.cfg.MaxDataProviders
	_, err := fx.engine.ShareData(t.Context(), req)
	require.True(t, trace.IsBadParameter(err))
	require.Empty(t, fx.mpc.ran)
}

func TestShareDataInvalidProofNoStateChange(t *testing.T) {
	t.Parallel()
	rejecting := tlsn.VerifierFunc(func(ctx context.Context, proof []byte) (int64, error) {
		return 0, trace.BadParameter("proof verification failed")
	})
	fx := newEngineFixture(t, rejecting)
	require.NoError(t, os.WriteFile(fx.shares.Path(), []byte("previous shares"), 0o600))

	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.True(t, trace.IsBadParameter(err))

	// nothing ran, nothing was backed up, the share file is untouched
	require.Empty(t, fx.mpc.ran)
	shares, err := os.ReadFile(fx.shares.Path())
	require.NoError(t, err)
	require.Equal(t, "previous shares", string(shares))
	require.NoDirExists(t, filepath.Join(fx.shares.Root, "Backup", "0"))
}

func TestShareDataCanceledContextNoStateChange(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	require.NoError(t, os.WriteFile(fx.shares.Path(), []byte("previous shares"), 0o600))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := fx.engine.ShareData(ctx, sharingRequest(t))
	require.Error(t, err)

	// the session died waiting for the share lock: no backup, no run
	require.Empty(t, fx.mpc.ran)
	require.NoDirExists(t, filepath.Join(fx.shares.Root, "Backup", "0"))
	shares, err := os.ReadFile(fx.shares.Path())
	require.NoError(t, err)
	require.Equal(t, "previous shares", string(shares))
}

func TestShareDataVMFailureRollsBack(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	require.NoError(t, os.WriteFile(fx.shares.Path(), []byte("previous shares"), 0o600))
	fx.mpc.runErr = trace.Errorf("VM exploded")

	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "VM exploded")

	// the share file is byte-identical to the pre-session state even
	// though the fake VM mutated it before failing
	shares, err := os.ReadFile(fx.shares.Path())
	require.NoError(t, err)
	require.Equal(t, "previous shares", string(shares))
}

func TestShareDataVMFailureFirstRunDeletesShares(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	fx.mpc.runErr = trace.Errorf("VM exploded")

	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.Error(t, err)
	require.False(t, fx.shares.Exists())
}

func TestShareDataPeerFetchFailureRollsBack(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	require.NoError(t, os.WriteFile(fx.shares.Path(), []byte("previous shares"), 0o600))
	fx.peer.Close()

	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.Error(t, err)
	require.Empty(t, fx.mpc.ran)

	shares, err := os.ReadFile(fx.shares.Path())
	require.NoError(t, err)
	require.Equal(t, "previous shares", string(shares))
}

func TestShareDataCommitmentCheck(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	fx.engine.cfg.PerformCommitmentCheck = true
	fx.mpc.runOutput = "Reg[0] = 0x" + strings.Repeat("ab", 32) + " #\n"

	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "commitment mismatch")
	require.False(t, fx.shares.Exists())
}

func TestQueryComputation(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())
	require.NoError(t, os.WriteFile(fx.shares.Path(), []byte("shares"), 0o600))

	err := fx.engine.QueryComputation(t.Context(), client.RequestQueryComputationMPCRequest{
		NumDataProviders: 7,
		MPCPortBase:      8010,
		ClientID:         5,
		ClientPortBase:   8019,
		ClientCertFile:   "client cert",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"query_computation_8019"}, fx.mpc.ran)
	require.Equal(t, "port = 8019\nn = 7\n", fx.mpc.programs["query_computation_8019"])
}

func TestQueryComputationNoShares(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())

	err := fx.engine.QueryComputation(t.Context(), client.RequestQueryComputationMPCRequest{
		NumDataProviders: 1,
		MPCPortBase:      8010,
		ClientPortBase:   8019,
	})
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "no data available")
	require.Empty(t, fx.mpc.ran)
}

func TestPartyCertIsPureRead(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, okVerifier())

	for range 3 {
		resp, err := fx.engine.PartyCert()
		require.NoError(t, err)
		require.Equal(t, 0, resp.PartyID)
		require.Equal(t, "own cert", resp.CertFile)
	}
	require.Empty(t, fx.mpc.ran)
}

func TestShareStoreBackupRestore(t *testing.T) {
	t.Parallel()
	store := &ShareStore{Root: t.TempDir(), PartyID: 2}
	require.NoError(t, store.CheckAndSetDefaults())
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("v1"), 0o600))

	backupPath, firstRun, err := store.Backup()
	require.NoError(t, err)
	require.False(t, firstRun)
	require.Contains(t, backupPath, "Transactions-P2.data.")

	require.NoError(t, os.WriteFile(store.Path(), []byte("v2 corrupted"), 0o600))
	require.NoError(t, store.Restore(backupPath))

	restored, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.Equal(t, "v1", string(restored))
}

func TestPlayerDataCleanStale(t *testing.T) {
	t.Parallel()
	playerData := &PlayerData{Dir: t.TempDir(), RehashCommand: []string{"true"}}
	require.NoError(t, playerData.CheckAndSetDefaults())

	for _, name := range []string{"abcd.0", "C5.pem", "P0.pem", "P1.pem"} {
		require.NoError(t, os.WriteFile(filepath.Join(playerData.Dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, playerData.CleanStale())

	// party certs survive, hash links and client certs do not
	require.NoFileExists(t, filepath.Join(playerData.Dir, "abcd.0"))
	require.NoFileExists(t, filepath.Join(playerData.Dir, "C5.pem"))
	require.FileExists(t, filepath.Join(playerData.Dir, "P0.pem"))
	require.FileExists(t, filepath.Join(playerData.Dir, "P1.pem"))
}
