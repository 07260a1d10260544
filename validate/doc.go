// Package validate enforces field rules and referential integrity across an
// import batch and scores the quality of each source sheet.
package validate
