package uci

import (
	"errors"
	"fmt"
	"strconv"
)

// Option is a UCI option bound to a variable.
type Option interface {
	UciName() string
	UciString() string
	Set(s string) error
}

var errOutOfRange = errors.New("argument out of range")

type BoolOption struct {
	Name  string
	Value *bool
}

func (opt *BoolOption) UciName() string {
	return opt.Name
}

func (opt *BoolOption) UciString() string {
	return fmt.Sprintf("option name %v type %v default %v",
		opt.Name, "check", *opt.Value)
}

func (opt *BoolOption) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*opt.Value = v
	return nil
}

type IntOption struct {
	Name  string
	Min   int
	Max   int
	Value *int
}

func (opt *IntOption) UciName() string {
	return opt.Name
}

func (opt *IntOption) UciString() string {
	return fmt.Sprintf("option name %v type %v default %v min %v max %v",
		opt.Name, "spin", *opt.Value, opt.Min, opt.Max)
}

func (opt *IntOption) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v < opt.Min || v > opt.Max {
		return errOutOfRange
	}
	*opt.Value = v
	return nil
}

type StringOption struct {
	Name  string
	Value *string
}

func (opt *StringOption) UciName() string {
	return opt.Name
}

func (opt *StringOption) UciString() string {
	def := *opt.Value
	if def == "" {
		def = "<empty>"
	}
	return fmt.Sprintf("option name %v type %v default %v",
		opt.Name, "string", def)
}

func (opt *StringOption) Set(s string) error {
	if s == "<empty>" {
		s = ""
	}
	*opt.Value = s
	return nil
}
