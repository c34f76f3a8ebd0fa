package config

import "path/filepath"

// StorageConfig locates the node's working directory, from which every
// other on-disk path is derived (spec §6 "On-disk layout").
type StorageConfig struct {
	// WorkingDir is the directory holding node.sqlite, <topic>.sqlite,
	// <topic>-index, and <topic>-blobs.
	WorkingDir string `yaml:"working_dir"`
}

// StoragePaths is the resolved set of on-disk paths for one swarm topic,
// rooted under a working directory (spec §6 "On-disk layout"; topic names
// have "/" replaced with "_").
type StoragePaths struct {
	NodeDB   string // keystore and node metadata
	BlockDB  string // <topic>.sqlite, the content-addressed block store
	TreeIndex string // <topic>-index, the Banyan tree index
	BlobDir  string // <topic>-blobs, app blob storage
}

// Resolve derives StoragePaths for topic under dir.
func (s StorageConfig) Resolve(topic string) StoragePaths {
	return StoragePaths{
		NodeDB:    filepath.Join(s.WorkingDir, "node.sqlite"),
		BlockDB:   filepath.Join(s.WorkingDir, topic+".sqlite"),
		TreeIndex: filepath.Join(s.WorkingDir, topic+"-index"),
		BlobDir:   filepath.Join(s.WorkingDir, topic+"-blobs"),
	}
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{WorkingDir: "./axcore-data"}
}
