package redis

// Key prefixes for primary entity storage.
const (
	prefixEvent        = "hookrelay:evt:"
	prefixSubscription = "hookrelay:sub:"
	prefixJob          = "hookrelay:job:"
	prefixRecord       = "hookrelay:rec:"
)

// Key prefixes for sorted set indexes.
const (
	zEventAll    = "hookrelay:z:evt:all"
	zSubAll      = "hookrelay:z:sub:all"
	zSubType     = "hookrelay:z:sub:type:" // + event type
	zJobPending  = "hookrelay:z:job:pending"
	zJobClaimed  = "hookrelay:z:job:claimed"
	zRecordAll   = "hookrelay:z:rec:all"
	zRecordDead  = "hookrelay:z:rec:dead"
	zRecordEvent = "hookrelay:z:rec:evt:" // + event ID
	zRecordSub   = "hookrelay:z:rec:sub:" // + subscription ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
