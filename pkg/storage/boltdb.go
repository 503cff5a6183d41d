package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/hutchstack/hutch/pkg/types"
)

var (
	// Bucket names
	bucketWorkloads = []byte("workloads")
	bucketEndpoints = []byte("endpoints")
	bucketRoutes    = []byte("routes")
	bucketInstances = []byte("instances")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hutch.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkloads,
			bucketEndpoints,
			bucketRoutes,
			bucketInstances,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v and stores it under key in bucket (upsert)
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// get unmarshals the value under key in bucket into v
func (s *BoltStore) get(bucket []byte, key string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Workload operations

func (s *BoltStore) SaveWorkload(w *types.Workload) error {
	return s.put(bucketWorkloads, w.Name, w)
}

func (s *BoltStore) GetWorkload(name string) (*types.Workload, error) {
	var w types.Workload
	if err := s.get(bucketWorkloads, name, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkloads() ([]*types.Workload, error) {
	var workloads []*types.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).ForEach(func(k, v []byte) error {
			var w types.Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workloads = append(workloads, &w)
			return nil
		})
	})
	return workloads, err
}

func (s *BoltStore) DeleteWorkload(name string) error {
	return s.delete(bucketWorkloads, name)
}

// Endpoint operations

func (s *BoltStore) SaveEndpoint(e *types.Endpoint) error {
	return s.put(bucketEndpoints, e.Name, e)
}

func (s *BoltStore) GetEndpoint(name string) (*types.Endpoint, error) {
	var e types.Endpoint
	if err := s.get(bucketEndpoints, name, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListEndpoints() ([]*types.Endpoint, error) {
	var endpoints []*types.Endpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEndpoints).ForEach(func(k, v []byte) error {
			var e types.Endpoint
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			endpoints = append(endpoints, &e)
			return nil
		})
	})
	return endpoints, err
}

func (s *BoltStore) DeleteEndpoint(name string) error {
	return s.delete(bucketEndpoints, name)
}

// Route operations

func (s *BoltStore) SaveRoute(r *types.Route) error {
	return s.put(bucketRoutes, r.Name, r)
}

func (s *BoltStore) GetRoute(name string) (*types.Route, error) {
	var r types.Route
	if err := s.get(bucketRoutes, name, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRoutes() ([]*types.Route, error) {
	var routes []*types.Route
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutes).ForEach(func(k, v []byte) error {
			var r types.Route
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			routes = append(routes, &r)
			return nil
		})
	})
	return routes, err
}

func (s *BoltStore) DeleteRoute(name string) error {
	return s.delete(bucketRoutes, name)
}

// Instance operations

func (s *BoltStore) SaveInstance(inst *types.Instance) error {
	return s.put(bucketInstances, inst.ID, inst)
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var inst types.Instance
	if err := s.get(bucketInstances, id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances, err
}

func (s *BoltStore) ListInstancesByWorkload(workload string) ([]*types.Instance, error) {
	all, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var instances []*types.Instance
	for _, inst := range all {
		if inst.Workload == workload {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

func (s *BoltStore) DeleteInstance(id string) error {
	return s.delete(bucketInstances, id)
}
