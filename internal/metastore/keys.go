package metastore

// Hash field names used on cluster and item records.
const (
	FieldID        = "id"
	FieldTitle     = "title"
	FieldSummary   = "summary"
	FieldStatus    = "status"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldClusterID = "cluster_id"
	FieldClustered = "clustered"
	FieldEmbedded  = "embedded"

	// FieldExtraPrefix namespaces summarizer-provided extra fields on the
	// cluster hash so they cannot collide with the fixed fields.
	FieldExtraPrefix = "x_"
)

// Keys builds the key names of the persisted layout, optionally under a
// common prefix so several deployments can share one Redis database.
//
//	{prefix}clusters               set of cluster IDs
//	{prefix}cluster:{id}           hash: cluster record
//	{prefix}cluster:{id}:members   set of item IDs
//	{prefix}item:{id}              hash: cluster_id, clustered, embedded
//	{prefix}unclustered            set of item IDs awaiting assignment
type Keys struct {
	Prefix string
}

// Clusters is the set of every cluster ID.
func (k Keys) Clusters() string { return k.Prefix + "clusters" }

// Cluster is the hash holding one cluster record.
func (k Keys) Cluster(id string) string { return k.Prefix + "cluster:" + id }

// Members is the set of item IDs belonging to a cluster.
func (k Keys) Members(clusterID string) string { return k.Prefix + "cluster:" + clusterID + ":members" }

// Item is the hash holding an item's clustering flags.
func (k Keys) Item(id string) string { return k.Prefix + "item:" + id }

// Unclustered is the work queue of items awaiting assignment.
func (k Keys) Unclustered() string { return k.Prefix + "unclustered" }
