package remote

import (
	"errors"
	"testing"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/types"
)

func stanzaWithHosts(dbHost, backupHost string) *config.Stanza {
	st := &config.Stanza{Name: "main"}
	st.DB.Host = dbHost
	st.DB.DataPath = "/pgdata"
	st.Backup.Host = backupHost
	st.Backup.RepoPath = "/repo"
	return st
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		dbHost     string
		backupHost string
		want       types.RemoteSide
		wantErr    bool
	}{
		{name: "all local", want: types.RemoteNone},
		{name: "db remote", dbHost: "db1", want: types.RemoteDatabase},
		{name: "backup remote", backupHost: "bk1", want: types.RemoteBackup},
		{name: "both remote", dbHost: "db1", backupHost: "bk1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			side, err := Resolve(stanzaWithHosts(tt.dbHost, tt.backupHost))
			if tt.wantErr {
				if !errors.Is(err, ErrBothRemote) {
					t.Fatalf("Expected ErrBothRemote, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if side != tt.want {
				t.Errorf("Expected side %v, got %v", tt.want, side)
			}
		})
	}
}

func TestCheckPlacement(t *testing.T) {
	tests := []struct {
		operation string
		side      types.RemoteSide
		wantErr   bool
	}{
		{OpArchivePush, types.RemoteDatabase, true},
		{OpArchiveGet, types.RemoteDatabase, true},
		{OpArchive, types.RemoteDatabase, true},
		{OpArchivePush, types.RemoteBackup, false},
		{OpArchiveGet, types.RemoteNone, false},
		{OpBackup, types.RemoteBackup, true},
		{OpExpire, types.RemoteBackup, true},
		{OpBackup, types.RemoteDatabase, false},
		{OpExpire, types.RemoteNone, false},
		{OpInfo, types.RemoteBackup, false},
	}

	for _, tt := range tests {
		t.Run(tt.operation+"/"+tt.side.String(), func(t *testing.T) {
			err := CheckPlacement(tt.operation, tt.side)
			if tt.wantErr && err == nil {
				t.Errorf("Expected placement error for %s with side %v", tt.operation, tt.side)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected placement error: %v", err)
			}
		})
	}
}

func TestEndpointFor(t *testing.T) {
	st := stanzaWithHosts("db1", "")
	st.DB.User = "postgres"

	ep := EndpointFor(st, types.RemoteDatabase)
	if ep.Host != "db1" || ep.User != "postgres" {
		t.Errorf("Expected db endpoint, got %+v", ep)
	}
	if ep := EndpointFor(st, types.RemoteNone); ep.Host != "" {
		t.Errorf("Expected zero endpoint for local topology, got %+v", ep)
	}
}
