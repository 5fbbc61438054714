// Package report keeps the most recent scan result of each world in a
// bbolt database so it can be shown again without rescanning.
package report

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	regionfix "github.com/mattkeenan/regionfix/pkg"
)

// Bucket names. Every world gets its own bucket below worlds, keyed by the
// world's absolute path:
//
//	worlds/<path>/meta               WorldSummary without the lists
//	worlds/<path>/containers/<key>   ContainerSummary, key is grid/name
//	worlds/<path>/data/<name>        DataFileSummary
var (
	worldsBucketName     = []byte("worlds")
	containersBucketName = []byte("containers")
	dataBucketName       = []byte("data")
	metaKey              = []byte("meta")
)

// ErrNotFound is returned when no scan of the world has been stored.
var ErrNotFound = errors.New("report: world not found")

// ContainerSummary is the stored outcome of one container scan.
type ContainerSummary struct {
	Grid            string         `msgpack:"grid" json:"grid"`
	Name            string         `msgpack:"name" json:"name"`
	Status          string         `msgpack:"status" json:"status"`
	Err             string         `msgpack:"err,omitempty" json:"error,omitempty"`
	Chunks          map[string]int `msgpack:"chunks" json:"chunks"`
	EntitiesRemoved int            `msgpack:"entities_removed" json:"entities_removed"`
	ScanTime        time.Time      `msgpack:"scan_time" json:"scan_time"`
}

// Key is the container's key inside its world bucket.
func (c ContainerSummary) Key() string {
	return c.Grid + "/" + c.Name
}

// DataFileSummary is the stored outcome of one side-car file.
type DataFileSummary struct {
	Name   string `msgpack:"name" json:"name"`
	Status string `msgpack:"status" json:"status"`
	Err    string `msgpack:"err,omitempty" json:"error,omitempty"`
}

// WorldSummary is everything stored for one world.
type WorldSummary struct {
	Path       string             `msgpack:"path" json:"path"`
	Name       string             `msgpack:"name" json:"name"`
	SavedAt    time.Time          `msgpack:"saved_at" json:"saved_at"`
	Problems   int                `msgpack:"problems" json:"problems"`
	Containers []ContainerSummary `msgpack:"-" json:"containers"`
	DataFiles  []DataFileSummary  `msgpack:"-" json:"data_files"`
}

// Store is an open report database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open report database %s", path)
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(worldsBucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize report database")
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func worldKey(path string) []byte {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return []byte(filepath.Clean(path))
}

// Summarize converts a scanned world into its stored form. Containers and
// data files that were never scanned are left out.
func Summarize(w *regionfix.World) *WorldSummary {
	ws := &WorldSummary{
		Path:     string(worldKey(w.Path)),
		Name:     w.Name,
		SavedAt:  time.Now(),
		Problems: w.Counts().Problems(),
	}
	for _, g := range w.Grids {
		for _, sc := range g.Containers() {
			if !sc.Scanned {
				continue
			}
			cs := ContainerSummary{
				Grid:            g.Name(),
				Name:            sc.Name(),
				Status:          sc.Status.String(),
				Err:             sc.Err,
				Chunks:          make(map[string]int),
				EntitiesRemoved: sc.EntitiesRemoved,
				ScanTime:        sc.ScanTime,
			}
			counts := sc.StatusCounts()
			for _, st := range regionfix.ChunkStatuses() {
				if n := counts[st]; n > 0 {
					cs.Chunks[st.String()] = n
				}
			}
			ws.Containers = append(ws.Containers, cs)
		}
	}
	for _, df := range w.DataFiles {
		if !df.Scanned {
			continue
		}
		rel, err := filepath.Rel(w.Path, df.Path)
		if err != nil {
			rel = df.Name()
		}
		ws.DataFiles = append(ws.DataFiles, DataFileSummary{
			Name:   filepath.ToSlash(rel),
			Status: df.Status.String(),
			Err:    df.Err,
		})
	}
	return ws
}

// Save replaces whatever was stored for the world with its current state.
func (s *Store) Save(w *regionfix.World) error {
	return s.SaveSummary(Summarize(w))
}

// SaveSummary stores ws, replacing the previous summary of the same world.
func (s *Store) SaveSummary(ws *WorldSummary) error {
	key := worldKey(ws.Path)
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(worldsBucketName)
		if root.Bucket(key) != nil {
			if err := root.DeleteBucket(key); err != nil {
				return errors.Wrapf(err, "drop previous report for %s", key)
			}
		}
		wb, err := root.CreateBucket(key)
		if err != nil {
			return errors.Wrapf(err, "create report for %s", key)
		}
		if err := putObject(wb, metaKey, ws); err != nil {
			return err
		}

		cb, err := wb.CreateBucket(containersBucketName)
		if err != nil {
			return err
		}
		for i := range ws.Containers {
			if err := putObject(cb, []byte(ws.Containers[i].Key()), &ws.Containers[i]); err != nil {
				return err
			}
		}
		db, err := wb.CreateBucket(dataBucketName)
		if err != nil {
			return err
		}
		for i := range ws.DataFiles {
			if err := putObject(db, []byte(ws.DataFiles[i].Name), &ws.DataFiles[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the stored container summaries of the world at worldPath,
// ordered by grid and file name.
func (s *Store) Load(worldPath string) ([]ContainerSummary, error) {
	ws, err := s.LoadWorld(worldPath)
	if err != nil {
		return nil, err
	}
	return ws.Containers, nil
}

// LoadWorld returns the full stored summary of the world at worldPath.
func (s *Store) LoadWorld(worldPath string) (*WorldSummary, error) {
	key := worldKey(worldPath)
	ws := &WorldSummary{}
	err := s.db.View(func(tx *bolt.Tx) error {
		wb := tx.Bucket(worldsBucketName).Bucket(key)
		if wb == nil {
			return errors.Wrapf(ErrNotFound, "%s", key)
		}
		if err := getObject(wb, metaKey, ws); err != nil {
			return err
		}
		if cb := wb.Bucket(containersBucketName); cb != nil {
			if err := cb.ForEach(func(k, v []byte) error {
				var cs ContainerSummary
				if err := decode(v, &cs); err != nil {
					return errors.Wrapf(err, "container %s", k)
				}
				ws.Containers = append(ws.Containers, cs)
				return nil
			}); err != nil {
				return err
			}
		}
		if db := wb.Bucket(dataBucketName); db != nil {
			return db.ForEach(func(k, v []byte) error {
				var ds DataFileSummary
				if err := decode(v, &ds); err != nil {
					return errors.Wrapf(err, "data file %s", k)
				}
				ws.DataFiles = append(ws.DataFiles, ds)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Worlds lists the paths of every stored world.
func (s *Store) Worlds() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(worldsBucketName).ForEach(func(k, v []byte) error {
			// Nested buckets have a nil value.
			if v == nil {
				out = append(out, string(k))
			}
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}

// Delete forgets the stored scan of a world.
func (s *Store) Delete(worldPath string) error {
	key := worldKey(worldPath)
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(worldsBucketName).DeleteBucket(key)
		if err == bolt.ErrBucketNotFound {
			return errors.Wrapf(ErrNotFound, "%s", key)
		}
		return err
	})
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(b []byte, v interface{}) error {
	return msgpack.Unmarshal(b, v)
}

func putObject(bucket *bolt.Bucket, key []byte, obj interface{}) error {
	value, err := encode(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal object with key %q", key)
	}
	if err := bucket.Put(key, value); err != nil {
		return errors.Wrapf(err, "failed to insert object with key %q", key)
	}
	return nil
}

func getObject(bucket *bolt.Bucket, key []byte, obj interface{}) error {
	value := bucket.Get(key)
	if value == nil {
		return errors.Wrapf(ErrNotFound, "key %q", key)
	}
	if err := decode(value, obj); err != nil {
		return errors.Wrapf(err, "failed to unmarshal object with key %q", key)
	}
	return nil
}
