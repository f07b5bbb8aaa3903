package kvrpc

import "github.com/juju/loggo"

var logger = loggo.GetLogger("kvrpc")
