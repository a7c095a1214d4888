package vm

import "github.com/tliron/commonlog"

var (
	log     = commonlog.GetLogger("ember.vm")
	heapLog = commonlog.GetLogger("ember.heap")
)
