// Package job holds the types shared by the scheduler components: job and
// trigger keys, job definitions, triggers, the executable Job contract and the
// error taxonomy reported through listeners.
package job
