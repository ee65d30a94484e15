package frames

const (
	MetaStreamID     = "stream_id"
	MetaIsFinal      = "is_final"
	MetaEndOfSegment = "end_of_segment"
	MetaSource       = "source"
	MetaConnID       = "conn_id"
)
