package lmdbenv

import (
	"os"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

type TestEnvFunc func(env *lmdb.Env) error

// TestEnv creates a temporary LMDB database and calls the given test function
// with the temporary LMDB Env. Any error returned by this function is returned
// unmodified to the caller.
func TestEnv(f TestEnvFunc) error {
	tmpdir, err := os.MkdirTemp("", "lmdbtest_")
	if err != nil {
		return errors.Wrap(err, "create tempdir")
	}
	defer os.RemoveAll(tmpdir)

	env, err := New(tmpdir, 0)
	if err != nil {
		return errors.Wrap(err, "new lmdb env")
	}
	defer env.Close()

	return f(env)
}
