package irbis

import (
	"github.com/pior/irbis/internal"
	"github.com/zeebo/xxh3"
)

// ServerSelector picks which server handles a database. It returns an index
// in [0, serverCount).
//
// Selection works on database names: a record and its lock live on the
// server hosting the database, so every session of a database has to land
// on the same server.
type ServerSelector func(database string, serverCount int) int

// DefaultServerSelector hashes the database name with xxh3 and maps it with
// Jump Hash. Adding a server moves about 1/n of the databases and leaves the
// others on the server their locks were taken on.
func DefaultServerSelector(database string, serverCount int) int {
	return internal.Jump(xxh3.HashString(database), serverCount)
}
