/*
Package apply is the submission path for desired state: YAML manifests are
parsed, validated wholesale, and written to the store, with an event
published for every change so the controller and proxy react immediately.

Applies are idempotent. Re-applying an unchanged workload does not bump its
generation; only a real spec change does, which is what triggers instance
replacement. A manifest file that fails validation is rejected as a unit
and leaves the store untouched.

The Watcher ties the applier to a directory: files own the entities they
declare, so editing a file re-applies it and deleting a file deletes its
entities.
*/
package apply
