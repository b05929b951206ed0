// Package scraper fetches the club's meeting list from nuLiga and extracts the
// home games played in the club's halls.
//
// nuLiga renders all meetings of a club in one table with the class
// result-set. Day and date cells are only filled on the first row of each
// day, so they are carried forward. Rows in foreign halls and byes (rows
// without a game number) are dropped.
package scraper
