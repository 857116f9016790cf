package main

import "github.com/urfave/cli/v2"

const (
	configFileFlagName  = "config"
	recordIdFlagName    = "record-id"
	operationIdFlagName = "operation-id"
	eventTypeFlagName   = "event-type"
	limitFlagName       = "limit"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:    configFileFlagName,
		Usage:   "path to a config file (json, yaml, toml) with the same keys as the flags",
		EnvVars: []string{"CUSTODYD_CONFIG"},
	}
	recordIdFlag = &cli.StringFlag{
		Name:  recordIdFlagName,
		Usage: "only list entries of the given custody record",
	}
	operationIdFlag = &cli.StringFlag{
		Name:  operationIdFlagName,
		Usage: "only list entries of the given operation",
	}
	eventTypeFlag = &cli.StringFlag{
		Name:  eventTypeFlagName,
		Usage: "only list entries of the given event type",
	}
	limitFlag = &cli.IntFlag{
		Name:  limitFlagName,
		Usage: "maximum number of entries to list, 0 lists all",
		Value: 100,
	}
)
