package types

// Row is a fixed-arity tuple in destination-table column order. Binding is positional.
type Row []any

// TopicPartition identifies a broker partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}
