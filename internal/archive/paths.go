package archive

import "strings"

// Artifact names the files one backup attempt produces around a prefix P:
// P.db, P.sql.gz, P.sha256 and optional write-ahead log siblings.
type Artifact struct {
	Prefix string
}

// ArtifactFromPath recovers the artifact for a stored data file path.
func ArtifactFromPath(dbPath string) Artifact {
	return Artifact{Prefix: strings.TrimSuffix(dbPath, ".db")}
}

func (a Artifact) DB() string       { return a.Prefix + ".db" }
func (a Artifact) SQLDump() string  { return a.Prefix + ".sql.gz" }
func (a Artifact) Manifest() string { return a.Prefix + ".sha256" }

// WALCandidates lists where a write-ahead log for the data file may live.
func (a Artifact) WALCandidates() []string {
	return []string{a.Prefix + ".db-wal", a.Prefix + "-wal"}
}

// Siblings lists every file that may belong to the artifact, data file first.
func (a Artifact) Siblings() []string {
	return []string{
		a.DB(),
		a.SQLDump(),
		a.Prefix + ".db-wal",
		a.Prefix + ".db-shm",
		a.Prefix + "-wal",
		a.Prefix + "-shm",
		a.Manifest(),
		a.DB() + ".sha256",
		a.SQLDump() + ".sha256",
	}
}

// LiveSideFiles lists the journal files SQLite may keep next to a live
// database file.
func LiveSideFiles(dbPath string) []string {
	return []string{dbPath + "-wal", dbPath + "-shm", dbPath + "-journal"}
}

// IsGzip reports whether a path names a gzip-compressed artifact.
func IsGzip(path string) bool {
	return strings.HasSuffix(path, ".gz")
}

// IsDatabase reports whether a path names a SQLite data file.
func IsDatabase(path string) bool {
	return strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite") || strings.HasSuffix(path, ".sqlite3")
}
