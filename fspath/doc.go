// Package fspath defines the hierarchical path model used by blobfs.
//
// A Path is an immutable value: a container name (bucket, collection or root
// folder, depending on the backend) plus an ordered list of segments. Paths
// carry no I/O and do not know whether they denote a file or a directory;
// only the backend's current contents decide that.
//
// Backend naming rules differ (allowed characters, length bounds, case
// sensitivity), so they are supplied as a Validator rather than hard-coded.
// The Validator also owns the comparison strategy: Normalize folds names for
// case-insensitive backends, and Path.Key builds the identity string used by
// lock tables and caches.
package fspath
